// Package shift provides time-of-day arithmetic for the lab's recurring shifts.
package shift

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ID identifies a configured shift.
type ID string

// Shift is a named recurring window of the day. Hours are fractional
// (9.5 = 09:30). End < Start encodes a window that wraps past midnight.
type Shift struct {
	ID      ID      `json:"id" yaml:"id"`
	Name    string  `json:"name" yaml:"name"`
	Start   float64 `json:"start" yaml:"start"`
	End     float64 `json:"end" yaml:"end"`
	Overlay bool    `json:"overlay,omitempty" yaml:"overlay"` // nested shift, never primary when another is active
}

// Overnight reports whether the window wraps past midnight.
func (s Shift) Overnight() bool {
	return s.End < s.Start
}

// Contains reports whether the hour-of-day h falls inside [Start, End).
func (s Shift) Contains(h float64) bool {
	if s.Overnight() {
		return h >= s.Start || h < s.End
	}
	return h >= s.Start && h < s.End
}

// Length returns the duration of the window in hours.
func (s Shift) Length() float64 {
	if s.Overnight() {
		return s.End + 24 - s.Start
	}
	return s.End - s.Start
}

// DefaultShifts returns the lab's standard rota: three 8-hour shifts and a
// general day shift nested across A and B.
func DefaultShifts() []Shift {
	return []Shift{
		{ID: "A", Name: "Shift A", Start: 6, End: 14},
		{ID: "B", Name: "Shift B", Start: 14, End: 22},
		{ID: "C", Name: "Shift C", Start: 22, End: 6},
		{ID: "G", Name: "General", Start: 9, End: 17, Overlay: true},
	}
}

// Calendar evaluates a fixed set of shifts against wall-clock instants.
type Calendar struct {
	shifts []Shift
	byID   map[ID]Shift
}

// NewCalendar validates the shift set and returns a Calendar.
func NewCalendar(shifts []Shift) (*Calendar, error) {
	var errs []string
	byID := make(map[ID]Shift, len(shifts))
	for i, s := range shifts {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("shifts[%d].id is required", i))
			continue
		}
		if _, dup := byID[s.ID]; dup {
			errs = append(errs, fmt.Sprintf("shift %q is defined twice", s.ID))
		}
		if s.Start < 0 || s.Start >= 24 || s.End < 0 || s.End >= 24 {
			errs = append(errs, fmt.Sprintf("shift %q hours must be within [0,24)", s.ID))
		}
		if s.Start == s.End {
			errs = append(errs, fmt.Sprintf("shift %q has an empty window", s.ID))
		}
		byID[s.ID] = s
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("shift: invalid calendar: %s", strings.Join(errs, "; "))
	}
	out := make([]Shift, len(shifts))
	copy(out, shifts)
	return &Calendar{shifts: out, byID: byID}, nil
}

// MustDefault returns a calendar over DefaultShifts.
func MustDefault() *Calendar {
	cal, err := NewCalendar(DefaultShifts())
	if err != nil {
		panic(err)
	}
	return cal
}

// Shifts returns the configured shifts in order.
func (c *Calendar) Shifts() []Shift {
	out := make([]Shift, len(c.shifts))
	copy(out, c.shifts)
	return out
}

// Get returns the shift with the given id.
func (c *Calendar) Get(id ID) (Shift, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Has reports whether id is a configured shift.
func (c *Calendar) Has(id ID) bool {
	_, ok := c.byID[id]
	return ok
}

// Active returns every shift whose window contains now, in configured order.
// Overlapping shifts are all returned.
func (c *Calendar) Active(now time.Time) []ID {
	h := HourOfDay(now)
	var ids []ID
	for _, s := range c.shifts {
		if s.Contains(h) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// IsActive reports whether the shift id is active at now.
func (c *Calendar) IsActive(id ID, now time.Time) bool {
	s, ok := c.byID[id]
	return ok && s.Contains(HourOfDay(now))
}

// Remaining returns the hours left until the end of shift id, measured from
// now. Outside the window (after its end) it returns 0.
func (c *Calendar) Remaining(id ID, now time.Time) float64 {
	s, ok := c.byID[id]
	if !ok {
		return 0
	}
	h := HourOfDay(now)
	end := s.End
	if s.Overnight() && h >= s.Start {
		end += 24
	}
	if h < end {
		return math.Max(0, end-h)
	}
	return 0
}

// MinRemaining returns the smallest Remaining across all active shifts, or 0
// when no shift is active.
func (c *Calendar) MinRemaining(now time.Time) float64 {
	active := c.Active(now)
	if len(active) == 0 {
		return 0
	}
	least := math.Inf(1)
	for _, id := range active {
		if r := c.Remaining(id, now); r < least {
			least = r
		}
	}
	return least
}

// Primary returns the first active non-overlay shift, falling back to the
// first active shift. It returns "" when nothing is active.
func (c *Calendar) Primary(now time.Time) ID {
	active := c.Active(now)
	for _, id := range active {
		if !c.byID[id].Overlay {
			return id
		}
	}
	if len(active) > 0 {
		return active[0]
	}
	return ""
}

// HourOfDay returns the fractional hour of t in its own location.
func HourOfDay(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600 + float64(t.Nanosecond())/3.6e12
}
