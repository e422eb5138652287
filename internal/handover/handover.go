// Package handover moves in-flight technician labor off shifts that have
// ended and onto the lab's current primary shift.
package handover

import (
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/registry"
	"github.com/RohitKumar027/ReliabilityPortal/internal/scheduler"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// Result describes one handover check. Changed reports a primary shift
// change; Ended lists every shift that went off duty since the last check,
// overlay shifts included.
type Result struct {
	Changed    bool                `json:"changed"`
	From       shift.ID            `json:"from,omitempty"`
	To         shift.ID            `json:"to,omitempty"`
	Ended      []shift.ID          `json:"ended,omitempty"`
	Entries    []lab.HandoverEntry `json:"entries,omitempty"`
	Unattended []lab.TestRef       `json:"unattended,omitempty"`
	Released   []string            `json:"released,omitempty"`
}

// Run compares the shifts active at now with those seen on the previous
// check. Technicians of every shift that ended hand their running tests to
// the primary shift and are reset. The first observation only records the
// shifts.
func Run(st *lab.State, cal *shift.Calendar, now time.Time, logger *slog.Logger) Result {
	var res Result
	if st == nil || cal == nil {
		return res
	}
	if logger == nil {
		logger = slog.Default()
	}
	active := cal.Active(now)
	primary := cal.Primary(now)
	if st.LastShift == "" {
		if primary != "" {
			st.LastShift = primary
			st.LastActive = active
			logger.Info("shift observed", "shift", primary)
		}
		return res
	}

	res.Ended = endedShifts(previouslyActive(st, cal), active)
	st.LastActive = active
	if primary != "" && primary != st.LastShift {
		res.Changed = true
		res.From, res.To = st.LastShift, primary
		st.LastShift = primary
	}
	if len(res.Ended) == 0 {
		if res.Changed {
			logger.Info("shift changed", "from", res.From, "to", res.To, "handovers", 0)
		}
		return res
	}

	reg := registry.New(st, cal)
	var incoming []*lab.Technician
	var capHours float64
	if primary != "" {
		incoming = reg.TechniciansInShift(now, primary)
		capHours = cal.Remaining(primary, now)
	}
	given := make(map[string]float64)
	touched := make(map[lab.TestRef]bool)
	outgoing := reg.TechniciansInShift(now, res.Ended...)

	for _, out := range outgoing {
		for _, ref := range append([]lab.TestRef(nil), out.AssignedTests...) {
			at := st.FindActiveTest(ref.SampleID, ref.Test)
			if at == nil {
				continue
			}
			remainingCycle := scheduler.RemainingCycleTime(at, now)
			if remainingCycle <= 0 {
				continue
			}
			// Earlier spillover is part of the remaining labor recomputed here.
			if !touched[ref] {
				touched[ref] = true
				at.Spillover = 0
				at.NeedsHandover = false
			}
			remainingMan := scheduler.RemainingManHours(at, now)
			entry := lab.HandoverEntry{
				FromShift:          out.Shift,
				ToShift:            primary,
				PreviousTechnician: out.Name,
				HandoverTime:       now,
				RemainingManHours:  remainingMan,
				RemainingCycleTime: remainingCycle,
			}

			receiver := leastBusy(incoming)
			dropTechnician(at, out.Name)
			if receiver == nil {
				if len(at.Technicians) == 0 {
					at.Status = lab.ActiveUnattended
					res.Unattended = append(res.Unattended, ref)
				}
				logger.Warn("no incoming technician for handover", "sample", ref.SampleID, "test", ref.Test, "from", out.Name)
			} else {
				share := remainingMan / float64(max(1, at.TechniciansRequired))
				hours := math.Min(share, math.Max(0, capHours-given[receiver.Name]))
				given[receiver.Name] += hours
				reg.ReserveWorkload(receiver, hours)
				reg.AddAssignedTest(receiver, ref)
				addTechnician(at, receiver.Name, hours)
				at.Status = lab.ActiveRunning
				if spill := share - hours; spill > 0 {
					at.Spillover += spill
					at.NeedsHandover = true
				}
				entry.NewTechnician = receiver.Name
				logger.Info("test handed over", "sample", ref.SampleID, "test", ref.Test,
					"from", out.Name, "to", receiver.Name, "hours", hours)
			}
			at.Handovers = append(at.Handovers, entry)
			res.Entries = append(res.Entries, entry)
		}
	}

	for _, out := range outgoing {
		out.CurrentWorkload = 0
		out.AssignedTests = nil
		res.Released = append(res.Released, out.Name)
	}
	logger.Info("shifts ended", "ended", res.Ended, "primary", primary, "handovers", len(res.Entries))
	return res
}

// previouslyActive returns the shifts recorded on the last check. Snapshots
// written before the active set was tracked fall back to the last primary
// shift plus every overlay shift.
func previouslyActive(st *lab.State, cal *shift.Calendar) []shift.ID {
	if len(st.LastActive) > 0 {
		return st.LastActive
	}
	prev := []shift.ID{st.LastShift}
	for _, s := range cal.Shifts() {
		if s.Overlay && s.ID != st.LastShift {
			prev = append(prev, s.ID)
		}
	}
	return prev
}

// endedShifts returns the ids in prev that are not in active.
func endedShifts(prev, active []shift.ID) []shift.ID {
	var ended []shift.ID
	for _, id := range prev {
		if !slices.Contains(active, id) {
			ended = append(ended, id)
		}
	}
	return ended
}

// leastBusy returns the incoming technician with the lowest workload, first
// in roster order on ties.
func leastBusy(techs []*lab.Technician) *lab.Technician {
	if len(techs) == 0 {
		return nil
	}
	sorted := append([]*lab.Technician(nil), techs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CurrentWorkload < sorted[j].CurrentWorkload
	})
	return sorted[0]
}

func dropTechnician(at *lab.ActiveTest, name string) {
	names := at.Technicians[:0]
	for _, n := range at.Technicians {
		if n != name {
			names = append(names, n)
		}
	}
	at.Technicians = names
	assignments := at.Assignments[:0]
	for _, a := range at.Assignments {
		if a.Technician != name {
			assignments = append(assignments, a)
		}
	}
	at.Assignments = assignments
}

func addTechnician(at *lab.ActiveTest, name string, hours float64) {
	for i := range at.Assignments {
		if at.Assignments[i].Technician == name {
			at.Assignments[i].Hours += hours
			return
		}
	}
	if !at.HasTechnician(name) {
		at.Technicians = append(at.Technicians, name)
	}
	at.Assignments = append(at.Assignments, lab.Assignment{Technician: name, Hours: hours})
}
