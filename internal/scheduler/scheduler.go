// Package scheduler turns pending samples into active tests. A pass reserves
// machines all-or-nothing per test and assigns technicians best effort.
package scheduler

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/registry"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// UnattendedPolicy decides what happens when no technician can take a test.
type UnattendedPolicy string

// Unattended policies.
const (
	// UnattendedAllow starts the test on its machines with no technician.
	UnattendedAllow UnattendedPolicy = "allow"
	// UnattendedHold leaves the sample pending until a technician frees up.
	UnattendedHold UnattendedPolicy = "hold"
)

// Deferral reasons.
const (
	ReasonMissingConfig = "missing test config"
	ReasonAlreadyActive = "already active"
	ReasonNoMachineType = "no machine of required type"
	ReasonPoolExhausted = "machine pool exhausted"
	ReasonDepthCap      = "machine at depth cap"
	ReasonOccupied      = "machine occupied"
	ReasonNoTechnician  = "no technician available"
)

// Policy tunes admission control.
type Policy struct {
	MachineDepthCap   int              `yaml:"machine_depth_cap"`
	ExclusiveMachines bool             `yaml:"exclusive_machines"`
	FullShiftHours    float64          `yaml:"full_shift_hours"`
	Unattended        UnattendedPolicy `yaml:"unattended"`
}

// DefaultPolicy returns depth cap 2, exclusive machines, an 8 hour full shift
// and unattended runs allowed.
func DefaultPolicy() Policy {
	return Policy{
		MachineDepthCap:   2,
		ExclusiveMachines: true,
		FullShiftHours:    8,
		Unattended:        UnattendedAllow,
	}
}

// Deferral records why a sample stayed pending.
type Deferral struct {
	SampleID string `json:"sampleId"`
	Test     string `json:"test"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Shortfall records a started test that got fewer technicians than required.
type Shortfall struct {
	SampleID string `json:"sampleId"`
	Test     string `json:"test"`
	Required int    `json:"required"`
	Assigned int    `json:"assigned"`
}

// PassResult summarizes one scheduling pass.
type PassResult struct {
	Started    []lab.TestRef `json:"started"`
	Deferred   []Deferral    `json:"deferred"`
	Unattended []lab.TestRef `json:"unattended"`
	Shortfalls []Shortfall   `json:"shortfalls"`
	Duplicates int           `json:"duplicates"`
}

// Scheduler runs scheduling passes under a fixed policy.
type Scheduler struct {
	policy Policy
	log    *slog.Logger
}

// New returns a Scheduler. Zero policy fields take their defaults.
func New(p Policy, logger *slog.Logger) *Scheduler {
	def := DefaultPolicy()
	if p.MachineDepthCap <= 0 {
		p.MachineDepthCap = def.MachineDepthCap
	}
	if p.FullShiftHours <= 0 {
		p.FullShiftHours = def.FullShiftHours
	}
	if p.Unattended == "" {
		p.Unattended = def.Unattended
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{policy: p, log: logger}
}

// Policy returns the effective policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Pass considers every pending sample once, in request submission order then
// sample order, and starts each whose next test can get its machines.
func (s *Scheduler) Pass(st *lab.State, cal *shift.Calendar, now time.Time) PassResult {
	var res PassResult
	if st == nil || cal == nil {
		return res
	}
	reg := registry.New(st, cal)

	for _, ri := range submissionOrder(st.Requests) {
		req := &st.Requests[ri]
		for si := range req.Samples {
			sample := &req.Samples[si]
			if sample.Status != lab.StatusPending || sample.CurrentTest >= len(sample.Tests) {
				continue
			}
			s.schedule(reg, st, req, sample, now, &res)
		}
	}

	if n := st.DedupActiveTests(); n > 0 {
		s.log.Error("duplicate active tests removed", "count", n)
		res.Duplicates = n
	}
	return res
}

func (s *Scheduler) schedule(reg *registry.Registry, st *lab.State, req *lab.Request, sample *lab.Sample, now time.Time, res *PassResult) {
	name := sample.CurrentTestName()
	deferSample := func(reason, detail string) {
		res.Deferred = append(res.Deferred, Deferral{SampleID: sample.ID, Test: name, Reason: reason, Detail: detail})
	}

	cfg, ok := sample.CurrentConfig()
	if !ok {
		s.log.Error("missing test config", "sample", sample.ID, "index", sample.CurrentTest)
		deferSample(ReasonMissingConfig, "")
		return
	}
	if st.HasActiveTest(sample.ID, name) {
		deferSample(ReasonAlreadyActive, "")
		return
	}

	machines, reason, detail := s.pickMachines(reg, cfg)
	if reason != "" {
		s.log.Debug("test deferred", "sample", sample.ID, "test", name, "reason", reason, "detail", detail)
		deferSample(reason, detail)
		return
	}

	techs, manual := s.pickTechnicians(reg, sample, cfg, now)
	if len(techs) == 0 && s.policy.Unattended == UnattendedHold {
		s.log.Info("test held for technician", "sample", sample.ID, "test", name)
		deferSample(ReasonNoTechnician, sample.Technician)
		return
	}

	start := now
	eta := start.Add(hoursToDuration(cfg.CycleTime))
	sample.Status = lab.StatusInProgress
	sample.StartTime = &start
	sample.EstimatedCompletion = &eta

	at := lab.ActiveTest{
		ID:                  uuid.NewString(),
		SampleID:            sample.ID,
		RequestID:           req.ID,
		Test:                name,
		ManHours:            cfg.ManHours,
		CycleTime:           cfg.CycleTime,
		TechniciansRequired: cfg.Technicians,
		StartTime:           start,
		EstimatedCompletion: eta,
		WorkPeriods:         WorkPeriods(cfg.ManHours, cfg.CycleTime),
		Status:              lab.ActiveRunning,
	}
	for _, m := range machines {
		at.AssignedMachines = append(at.AssignedMachines, m.ID)
		at.MachineNames = append(at.MachineNames, m.Name)
	}

	headcount := max(1, cfg.Technicians)
	hours := cfg.ManHours / float64(headcount)
	if manual {
		hours = cfg.ManHours * float64(headcount)
	}
	for _, tech := range techs {
		remaining := reg.Calendar().Remaining(tech.Shift, now)
		reserved := math.Min(hours, remaining)
		if spill := hours - reserved; spill > 0 {
			at.Spillover += spill
			at.NeedsHandover = true
		}
		reg.ReserveWorkload(tech, reserved)
		reg.AddAssignedTest(tech, at.Ref())
		at.Technicians = append(at.Technicians, tech.Name)
		at.Assignments = append(at.Assignments, lab.Assignment{Technician: tech.Name, Hours: reserved})
	}

	ref := at.Ref()
	switch {
	case len(techs) == 0:
		at.Status = lab.ActiveUnattended
		res.Unattended = append(res.Unattended, ref)
		s.log.Warn("test started unattended", "sample", sample.ID, "test", name, "requested", sample.Technician)
	case !manual && len(techs) < headcount:
		res.Shortfalls = append(res.Shortfalls, Shortfall{SampleID: sample.ID, Test: name, Required: headcount, Assigned: len(techs)})
		s.log.Warn("technician shortfall", "sample", sample.ID, "test", name, "required", headcount, "assigned", len(techs))
	}

	st.ActiveTests = append(st.ActiveTests, at)
	res.Started = append(res.Started, ref)
	s.log.Info("test started", "sample", sample.ID, "test", name,
		"machines", at.AssignedMachines, "technicians", at.TechnicianLabel())
}

// pickMachines selects the least-loaded machine of every required type. It
// returns a non-empty reason when the test cannot start.
func (s *Scheduler) pickMachines(reg *registry.Registry, cfg lab.TestDefinition) ([]*lab.Machine, string, string) {
	if !cfg.RequiresMachine() {
		return nil, "", ""
	}
	picked := make(map[string]bool, len(cfg.Machines))
	var out []*lab.Machine
	for _, typ := range cfg.Machines {
		pool := reg.MachinesOfType(typ)
		if len(pool) == 0 {
			return nil, ReasonNoMachineType, typ
		}
		var best *lab.Machine
		bestLoad := 0
		for _, m := range pool {
			if picked[m.ID] {
				continue
			}
			load := reg.MachineLoad(m.ID)
			if best == nil || load < bestLoad {
				best, bestLoad = m, load
			}
		}
		if best == nil {
			return nil, ReasonPoolExhausted, typ
		}
		if bestLoad >= s.policy.MachineDepthCap {
			return nil, ReasonDepthCap, best.ID
		}
		if s.policy.ExclusiveMachines && bestLoad > 0 {
			return nil, ReasonOccupied, best.ID
		}
		picked[best.ID] = true
		out = append(out, best)
	}
	return out, "", ""
}

// pickTechnicians returns the technicians to assign and whether the sample
// named its technician explicitly.
func (s *Scheduler) pickTechnicians(reg *registry.Registry, sample *lab.Sample, cfg lab.TestDefinition, now time.Time) ([]*lab.Technician, bool) {
	if !sample.AutoAssigned() {
		tech := reg.Technician(sample.Technician)
		if tech == nil {
			s.log.Warn("named technician not found", "sample", sample.ID, "technician", sample.Technician)
			return nil, true
		}
		return []*lab.Technician{tech}, true
	}

	var candidates []*lab.Technician
	for _, t := range reg.TechniciansInShift(now) {
		if t.CurrentWorkload <= s.policy.FullShiftHours {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CurrentWorkload < candidates[j].CurrentWorkload
	})
	if n := max(1, cfg.Technicians); len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, false
}

// submissionOrder returns request indexes sorted by submission time, stable
// on slice order.
func submissionOrder(reqs []lab.Request) []int {
	idx := make([]int, len(reqs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return reqs[idx[a]].SubmittedAt.Before(reqs[idx[b]].SubmittedAt)
	})
	return idx
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// String renders a one-line summary for logs and the CLI.
func (r PassResult) String() string {
	return fmt.Sprintf("started=%d deferred=%d unattended=%d shortfalls=%d",
		len(r.Started), len(r.Deferred), len(r.Unattended), len(r.Shortfalls))
}
