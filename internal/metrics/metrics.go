// Package metrics derives read-only lab figures from a lab.State: machine and
// technician utilization, lead time, queue forecasts and the capacity score.
// Nothing here mutates its input.
package metrics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/scheduler"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// Capacity bands.
const (
	BandMaxLoad  = "MAX LOAD"
	BandHighLoad = "HIGH LOAD"
	BandNormal   = "NORMAL"
	BandLowLoad  = "LOW LOAD"
)

// OverloadThreshold is the queue-per-machine above which a type is overloaded.
const OverloadThreshold = 2

// CapacityConfig holds the saturation points of the queue and pending terms.
type CapacityConfig struct {
	QueueSaturation   float64 `yaml:"queue_saturation"`
	PendingSaturation float64 `yaml:"pending_saturation"`
}

// DefaultCapacityConfig saturates at an average queue of 3 and 20 pending samples.
func DefaultCapacityConfig() CapacityConfig {
	return CapacityConfig{QueueSaturation: 3, PendingSaturation: 20}
}

// MachineUsage is one machine's share of today.
type MachineUsage struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	ActiveTests int     `json:"activeTests"`
	BusyHours   float64 `json:"busyHours"`
	Utilization float64 `json:"utilization"`
}

// TechnicianUsage is one in-shift technician's outstanding labor.
type TechnicianUsage struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Shift          shift.ID `json:"shift"`
	LoadHours      float64  `json:"loadHours"`
	ShiftRemaining float64  `json:"shiftRemaining"`
	Utilization    float64  `json:"utilization"`
}

// LeadTime is the projected time at which all current and queued work clears.
type LeadTime struct {
	Hours      float64   `json:"hours"`
	Completion time.Time `json:"completion"`
}

// QueueForecast is the demand on one machine type.
type QueueForecast struct {
	Type            string `json:"type"`
	Capacity        int    `json:"capacity"`
	Occupied        int    `json:"occupied"`
	Pending         int    `json:"pending"`
	Demand          int    `json:"demand"`
	QueuePerMachine int    `json:"queuePerMachine"`
	Overloaded      bool   `json:"overloaded"`
}

// CapacityScore is the composite 0-100 load score.
type CapacityScore struct {
	Score float64 `json:"score"`
	Band  string  `json:"band"`
}

// NCCount tallies non-conformances of one classification.
type NCCount struct {
	Type         string `json:"type"`
	Failures     int    `json:"failures"`
	Observations int    `json:"observations"`
}

// ActiveTestView is a display row for an in-flight test.
type ActiveTestView struct {
	ID                  string           `json:"id"`
	SampleID            string           `json:"sampleId"`
	RequestID           string           `json:"requestId"`
	Test                string           `json:"test"`
	Machines            string           `json:"machines"`
	Technicians         string           `json:"technicians"`
	Status              lab.ActiveStatus `json:"status"`
	StartTime           time.Time        `json:"startTime"`
	EstimatedCompletion time.Time        `json:"estimatedCompletion"`
	RemainingManHours   float64          `json:"remainingManHours"`
	RemainingCycleTime  float64          `json:"remainingCycleTime"`
	Progress            float64          `json:"progress"`
	NeedsHandover       bool             `json:"needsHandover"`
}

// MachineUtilization returns the average utilization across all machines and
// the per-machine detail. Busy time is limited to what remains of today.
func MachineUtilization(st *lab.State, now time.Time) (float64, []MachineUsage) {
	if st == nil || len(st.Machines) == 0 {
		return 0, nil
	}
	today := 24 - shift.HourOfDay(now)
	usage := make([]MachineUsage, 0, len(st.Machines))
	var sum float64
	for _, m := range st.Machines {
		u := MachineUsage{ID: m.ID, Name: m.Name, Type: m.Type}
		for i := range st.ActiveTests {
			at := &st.ActiveTests[i]
			if !at.UsesMachine(m.ID) {
				continue
			}
			u.ActiveTests++
			u.BusyHours += math.Min(scheduler.RemainingCycleTime(at, now), today)
		}
		u.BusyHours = math.Min(u.BusyHours, today)
		if today > 0 {
			u.Utilization = clampPercent(u.BusyHours / today * 100)
		}
		sum += u.Utilization
		usage = append(usage, u)
	}
	return sum / float64(len(usage)), usage
}

// TechnicianUtilization returns the average utilization of in-shift
// technicians and the per-technician detail. Labor on a shared test is split
// evenly between its named technicians.
func TechnicianUtilization(st *lab.State, cal *shift.Calendar, now time.Time) (float64, []TechnicianUsage) {
	if st == nil || cal == nil {
		return 0, nil
	}
	active := make(map[shift.ID]bool)
	for _, id := range cal.Active(now) {
		active[id] = true
	}
	var usage []TechnicianUsage
	var sum float64
	for _, t := range st.Technicians {
		if !active[t.Shift] {
			continue
		}
		u := TechnicianUsage{ID: t.ID, Name: t.Name, Shift: t.Shift, ShiftRemaining: cal.Remaining(t.Shift, now)}
		for i := range st.ActiveTests {
			at := &st.ActiveTests[i]
			if len(at.Technicians) == 0 || !at.HasTechnician(t.Name) {
				continue
			}
			u.LoadHours += scheduler.RemainingManHours(at, now) / float64(len(at.Technicians))
		}
		switch {
		case u.ShiftRemaining > 0:
			u.Utilization = clampPercent(u.LoadHours / u.ShiftRemaining * 100)
		case u.LoadHours > 0:
			u.Utilization = 100
		}
		sum += u.Utilization
		usage = append(usage, u)
	}
	if len(usage) == 0 {
		return 0, nil
	}
	return sum / float64(len(usage)), usage
}

// EstimateLeadTime simulates every unfinished sample's remaining tests
// against the machine pools and returns when the last one would finish.
func EstimateLeadTime(st *lab.State, now time.Time) LeadTime {
	lt := LeadTime{Completion: now}
	if st == nil {
		return lt
	}

	free := make(map[string]time.Time, len(st.Machines))
	pools := make(map[string][]string)
	for _, m := range st.Machines {
		free[m.ID] = now
		key := typeKey(m.Type)
		pools[key] = append(pools[key], m.ID)
	}
	for _, at := range st.ActiveTests {
		for _, id := range at.AssignedMachines {
			if _, ok := free[id]; ok && at.EstimatedCompletion.After(free[id]) {
				free[id] = at.EstimatedCompletion
			}
		}
	}

	for _, req := range bySubmission(st.Requests) {
		for _, s := range req.Samples {
			if s.Status == lab.StatusCompleted {
				continue
			}
			cursor := now
			next := s.CurrentTest
			if s.Status == lab.StatusInProgress {
				if s.EstimatedCompletion != nil && s.EstimatedCompletion.After(cursor) {
					cursor = *s.EstimatedCompletion
				}
				next++
			}
			for i := next; i < len(s.Tests) && i < len(s.TestConfigs); i++ {
				cursor = simulateTest(s.TestConfigs[i], cursor, pools, free)
			}
			if cursor.After(lt.Completion) {
				lt.Completion = cursor
			}
		}
	}
	lt.Hours = math.Max(0, lt.Completion.Sub(now).Hours())
	return lt
}

// simulateTest books cfg on the earliest-free machine of each required type
// and returns the test's finish time.
func simulateTest(cfg lab.TestDefinition, ready time.Time, pools map[string][]string, free map[string]time.Time) time.Time {
	start := ready
	var chosen []string
	for _, typ := range cfg.Machines {
		best := ""
		for _, id := range pools[typeKey(typ)] {
			if contains(chosen, id) {
				continue
			}
			if best == "" || free[id].Before(free[best]) {
				best = id
			}
		}
		if best == "" {
			continue
		}
		chosen = append(chosen, best)
		if free[best].After(start) {
			start = free[best]
		}
	}
	end := start.Add(time.Duration(cfg.CycleTime * float64(time.Hour)))
	for _, id := range chosen {
		free[id] = end
	}
	return end
}

// QueueDepth forecasts per machine type the demand from running machines plus
// pending samples whose next test needs that type.
func QueueDepth(st *lab.State) []QueueForecast {
	if st == nil {
		return nil
	}
	byType := make(map[string]*QueueForecast)
	get := func(typ string) *QueueForecast {
		key := typeKey(typ)
		q, ok := byType[key]
		if !ok {
			q = &QueueForecast{Type: strings.TrimSpace(typ)}
			byType[key] = q
		}
		return q
	}

	for _, m := range st.Machines {
		q := get(m.Type)
		q.Capacity++
		for i := range st.ActiveTests {
			if st.ActiveTests[i].UsesMachine(m.ID) {
				q.Occupied++
				break
			}
		}
	}
	for _, req := range st.Requests {
		for i := range req.Samples {
			s := &req.Samples[i]
			if s.Status != lab.StatusPending {
				continue
			}
			cfg, ok := s.CurrentConfig()
			if !ok {
				continue
			}
			seen := make(map[string]bool)
			for _, typ := range cfg.Machines {
				if seen[typeKey(typ)] {
					continue
				}
				seen[typeKey(typ)] = true
				get(typ).Pending++
			}
		}
	}

	out := make([]QueueForecast, 0, len(byType))
	for _, q := range byType {
		q.Demand = q.Occupied + q.Pending
		if q.Capacity == 0 {
			q.QueuePerMachine = q.Demand
			q.Overloaded = q.Demand > 0
		} else {
			excess := math.Max(0, float64(q.Demand-q.Capacity))
			q.QueuePerMachine = int(math.Ceil(excess / float64(q.Capacity)))
			q.Overloaded = q.QueuePerMachine > OverloadThreshold
		}
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return typeKey(out[i].Type) < typeKey(out[j].Type) })
	return out
}

// AverageQueue returns the mean queue-per-machine across forecasts.
func AverageQueue(qs []QueueForecast) float64 {
	if len(qs) == 0 {
		return 0
	}
	var sum float64
	for _, q := range qs {
		sum += float64(q.QueuePerMachine)
	}
	return sum / float64(len(qs))
}

// PendingSamples counts samples waiting for their next test.
func PendingSamples(st *lab.State) int {
	if st == nil {
		return 0
	}
	n := 0
	for _, req := range st.Requests {
		for _, s := range req.Samples {
			if s.Status == lab.StatusPending {
				n++
			}
		}
	}
	return n
}

// Capacity scores the lab from 100 (idle) down to 0. Utilizations are
// percentages.
func Capacity(machineUtil, techUtil, avgQueue float64, pending int, cfg CapacityConfig) CapacityScore {
	if cfg.QueueSaturation <= 0 || cfg.PendingSaturation <= 0 {
		cfg = DefaultCapacityConfig()
	}
	score := 100 -
		50*clampUnit(machineUtil/100) -
		40*clampUnit(techUtil/100) -
		30*clampUnit(avgQueue/cfg.QueueSaturation) -
		20*clampUnit(float64(pending)/cfg.PendingSaturation)
	score = math.Max(0, math.Min(100, score))
	return CapacityScore{Score: score, Band: Band(score)}
}

// Band maps a capacity score to its label.
func Band(score float64) string {
	switch {
	case score < 20:
		return BandMaxLoad
	case score < 50:
		return BandHighLoad
	case score < 80:
		return BandNormal
	default:
		return BandLowLoad
	}
}

// OnTimePercentage returns the share of completed requests that met their
// deadline, or 0 before any completion.
func OnTimePercentage(c lab.Counters) float64 {
	if c.TotalCompletions <= 0 {
		return 0
	}
	return float64(c.OnTimeCompletions) / float64(c.TotalCompletions) * 100
}

// NCBreakdown tallies recorded non-conformances by classification.
func NCBreakdown(st *lab.State) []NCCount {
	if st == nil {
		return nil
	}
	counts := make(map[string]*NCCount)
	for _, req := range st.Requests {
		for _, s := range req.Samples {
			for _, res := range s.TestResults {
				if res.Outcome != lab.Fail && !res.NC {
					continue
				}
				typ := strings.TrimSpace(res.NCType)
				if typ == "" {
					typ = "Unclassified"
				}
				c, ok := counts[typ]
				if !ok {
					c = &NCCount{Type: typ}
					counts[typ] = c
				}
				if res.Outcome == lab.Fail {
					c.Failures++
				} else {
					c.Observations++
				}
			}
		}
	}
	out := make([]NCCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ActiveTests returns display rows for every in-flight test.
func ActiveTests(st *lab.State, now time.Time) []ActiveTestView {
	if st == nil {
		return nil
	}
	out := make([]ActiveTestView, 0, len(st.ActiveTests))
	for i := range st.ActiveTests {
		at := &st.ActiveTests[i]
		v := ActiveTestView{
			ID:                  at.ID,
			SampleID:            at.SampleID,
			RequestID:           at.RequestID,
			Test:                at.Test,
			Machines:            strings.Join(at.MachineNames, ", "),
			Technicians:         at.TechnicianLabel(),
			Status:              at.Status,
			StartTime:           at.StartTime,
			EstimatedCompletion: at.EstimatedCompletion,
			RemainingManHours:   scheduler.RemainingManHours(at, now),
			RemainingCycleTime:  scheduler.RemainingCycleTime(at, now),
			NeedsHandover:       at.NeedsHandover,
		}
		if at.CycleTime > 0 {
			v.Progress = clampPercent(scheduler.Elapsed(at.StartTime, now) / at.CycleTime * 100)
		}
		out = append(out, v)
	}
	return out
}

// Dashboard bundles every figure the UI shows.
type Dashboard struct {
	GeneratedAt           time.Time         `json:"generatedAt"`
	MachineUtilization    float64           `json:"machineUtilization"`
	TechnicianUtilization float64           `json:"technicianUtilization"`
	Machines              []MachineUsage    `json:"machines"`
	Technicians           []TechnicianUsage `json:"technicians"`
	LeadTime              LeadTime          `json:"leadTime"`
	Queue                 []QueueForecast   `json:"queue"`
	Capacity              CapacityScore     `json:"capacity"`
	OnTimePercentage      float64           `json:"onTimePercentage"`
	Counters              lab.Counters      `json:"counters"`
	NCBreakdown           []NCCount         `json:"ncBreakdown"`
	ActiveTests           []ActiveTestView  `json:"activeTests"`
	PendingSamples        int               `json:"pendingSamples"`
	ActiveShifts          []shift.ID        `json:"activeShifts"`
}

// Compute derives the whole dashboard in one read.
func Compute(st *lab.State, cal *shift.Calendar, now time.Time, cfg CapacityConfig) Dashboard {
	d := Dashboard{GeneratedAt: now}
	if st == nil {
		d.Capacity = Capacity(0, 0, 0, 0, cfg)
		return d
	}
	d.MachineUtilization, d.Machines = MachineUtilization(st, now)
	d.TechnicianUtilization, d.Technicians = TechnicianUtilization(st, cal, now)
	d.LeadTime = EstimateLeadTime(st, now)
	d.Queue = QueueDepth(st)
	d.PendingSamples = PendingSamples(st)
	d.Capacity = Capacity(d.MachineUtilization, d.TechnicianUtilization, AverageQueue(d.Queue), d.PendingSamples, cfg)
	d.Counters = st.Counters
	d.OnTimePercentage = OnTimePercentage(st.Counters)
	d.NCBreakdown = NCBreakdown(st)
	d.ActiveTests = ActiveTests(st, now)
	if cal != nil {
		d.ActiveShifts = cal.Active(now)
	}
	return d
}

func bySubmission(reqs []lab.Request) []lab.Request {
	out := append([]lab.Request(nil), reqs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(100, v)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}

func typeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
