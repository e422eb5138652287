// Package supervisor owns the lab state. Every inbound event runs together
// with its follow-up scheduling pass under one lock, so passes never
// interleave with each other or with mutations.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RohitKumar027/ReliabilityPortal/internal/alert"
	"github.com/RohitKumar027/ReliabilityPortal/internal/catalog"
	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
	"github.com/RohitKumar027/ReliabilityPortal/internal/handover"
	"github.com/RohitKumar027/ReliabilityPortal/internal/intake"
	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/metrics"
	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
	"github.com/RohitKumar027/ReliabilityPortal/internal/registry"
	"github.com/RohitKumar027/ReliabilityPortal/internal/results"
	"github.com/RohitKumar027/ReliabilityPortal/internal/scheduler"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
	"github.com/RohitKumar027/ReliabilityPortal/internal/store"
)

// ReportWriter produces the report of a finished SKU and returns its location.
type ReportWriter interface {
	WriteSKU(req *lab.Request, modelName string, samples []*lab.Sample, outcome lab.SKUOutcome, now time.Time) (string, error)
}

// Alerter records alerts.
type Alerter interface {
	Raise(ctx context.Context, a models.Alert) (*models.Alert, error)
}

// Options configures a Supervisor. Calendar and Catalog are required.
type Options struct {
	State    *lab.State
	Calendar *shift.Calendar
	Catalog  *catalog.Catalog
	Policy   scheduler.Policy
	Capacity metrics.CapacityConfig
	Schedule config.ScheduleConfig
	Store    store.Store
	Alerts   Alerter
	Reports  ReportWriter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Supervisor serializes all access to the lab state.
type Supervisor struct {
	mu       sync.Mutex
	st       *lab.State
	defaults *lab.State
	deferred map[lab.TestRef]string

	cal      *shift.Calendar
	cat      *catalog.Catalog
	sched    *scheduler.Scheduler
	rec      *results.Recorder
	capacity metrics.CapacityConfig
	schedule config.ScheduleConfig
	store    store.Store
	alerts   Alerter
	reports  ReportWriter
	log      *slog.Logger
	now      func() time.Time
}

// New returns a Supervisor over opts.State, or an empty state when nil.
func New(opts Options) (*Supervisor, error) {
	if opts.Calendar == nil {
		return nil, fmt.Errorf("supervisor: calendar is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("supervisor: catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.State == nil {
		opts.State = lab.NewState()
	}
	return &Supervisor{
		st:       opts.State.Clone(),
		defaults: opts.State.Clone(),
		deferred: make(map[lab.TestRef]string),
		cal:      opts.Calendar,
		cat:      opts.Catalog,
		sched:    scheduler.New(opts.Policy, opts.Logger),
		rec:      results.NewRecorder(opts.Logger),
		capacity: opts.Capacity,
		schedule: opts.Schedule,
		store:    opts.Store,
		alerts:   opts.Alerts,
		reports:  opts.Reports,
		log:      opts.Logger,
		now:      opts.Now,
	}, nil
}

// Catalog returns the test catalog.
func (s *Supervisor) Catalog() *catalog.Catalog { return s.cat }

// Calendar returns the shift calendar.
func (s *Supervisor) Calendar() *shift.Calendar { return s.cal }

// Load reads the saved snapshot and merges it over the defaults. Store and
// decode errors are logged and leave the current state in place.
func (s *Supervisor) Load(ctx context.Context) bool {
	if s.store == nil {
		return false
	}
	data, err := s.store.Load(ctx)
	if err != nil {
		s.log.Error("snapshot load failed", "error", err)
		return false
	}
	if data == nil {
		return false
	}
	snap, err := lab.Decode(data)
	if err != nil {
		s.log.Error("snapshot decode failed", "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = lab.Merge(s.defaults.Clone(), snap)
	if n := s.st.DedupActiveTests(); n > 0 {
		s.log.Warn("duplicate active tests dropped from snapshot", "count", n)
	}
	s.log.Info("snapshot loaded", "requests", len(s.st.Requests), "active", len(s.st.ActiveTests))
	return true
}

// Save writes the current state to the store. Errors are logged.
func (s *Supervisor) Save(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	s.st.UpdatedAt = s.now()
	data, err := lab.Encode(s.st)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("snapshot encode failed", "error", err)
		return
	}
	if err := s.store.Save(ctx, data); err != nil {
		s.log.Error("snapshot save failed", "error", err)
		return
	}
	s.log.Debug("snapshot saved", "bytes", len(data))
}

// Reset restores the defaults and clears the stored snapshot.
func (s *Supervisor) Reset(ctx context.Context) {
	s.mu.Lock()
	s.st = s.defaults.Clone()
	s.deferred = make(map[lab.TestRef]string)
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			s.log.Error("snapshot clear failed", "error", err)
		}
	}
	s.log.Info("lab state reset")
}

// SubmitRequest adds a new request, sets its deadline from the projected
// lead time and schedules.
func (s *Supervisor) SubmitRequest(ctx context.Context, sub intake.Submission) (*lab.Request, scheduler.PassResult, error) {
	s.mu.Lock()
	now := s.now()
	req, err := intake.Build(sub, s.cat, now)
	if err != nil {
		s.mu.Unlock()
		return nil, scheduler.PassResult{}, err
	}
	s.st.Requests = append(s.st.Requests, *req)
	added := &s.st.Requests[len(s.st.Requests)-1]
	added.Deadline = metrics.EstimateLeadTime(s.st, now).Completion
	s.log.Info("request submitted", "request", added.ID, "samples", len(added.Samples), "deadline", added.Deadline)

	res, pending := s.passLocked(now)
	out := cloneRequest(s.st.FindRequest(req.ID))
	s.mu.Unlock()

	s.raise(ctx, pending)
	return out, res, nil
}

// RecordResult applies a verdict, writes the SKU report when the SKU
// finishes and schedules.
func (s *Supervisor) RecordResult(ctx context.Context, in results.Input) (*results.Recorded, scheduler.PassResult, error) {
	s.mu.Lock()
	now := s.now()
	rec, err := s.rec.Record(s.st, s.cal, in, now)
	if err != nil {
		s.mu.Unlock()
		return nil, scheduler.PassResult{}, err
	}

	var pending []models.Alert
	if in.Outcome == lab.Fail {
		pending = append(pending, models.Alert{
			Kind:      alert.KindFailure,
			Severity:  alert.SeverityCritical,
			RequestID: requestOf(s.st, in.SampleID),
			SampleID:  in.SampleID,
			Test:      in.Test,
			Subject:   fmt.Sprintf("%s failed on %s", in.Test, in.SampleID),
			Body:      fmt.Sprintf("%s: %s", in.NCType, in.Remarks),
		})
	}
	var job *reportJob
	if rec.SKUReport != nil {
		job = s.prepareReport(rec.SKUReport)
	}

	res, more := s.passLocked(now)
	pending = append(pending, more...)
	s.mu.Unlock()

	if rec.SKUReport != nil {
		pending = append(pending, s.writeReport(rec.SKUReport, job, now))
	}
	s.raise(ctx, pending)
	return rec, res, nil
}

// reportJob is a private copy of the request a finished SKU belongs to, so
// the workbook can be written without holding the lock.
type reportJob struct {
	req     *lab.Request
	samples []*lab.Sample
}

// prepareReport copies the report inputs. Callers hold s.mu.
func (s *Supervisor) prepareReport(rep *lab.SKUReport) *reportJob {
	if s.reports == nil {
		return nil
	}
	req := s.st.FindRequest(rep.RequestID)
	if req == nil {
		return nil
	}
	cp := (&lab.State{Requests: []lab.Request{*req}}).Clone()
	if len(cp.Requests) != 1 {
		return nil
	}
	job := &reportJob{req: &cp.Requests[0]}
	job.samples = cp.SKUSamples(job.req, rep.ModelName)
	return job
}

// writeReport writes the workbook outside the lock and records its path.
func (s *Supervisor) writeReport(rep *lab.SKUReport, job *reportJob, now time.Time) models.Alert {
	a := models.Alert{
		Kind:      alert.KindSKUReport,
		Severity:  alert.SeverityInfo,
		RequestID: rep.RequestID,
		Subject:   fmt.Sprintf("SKU %s of %s finished: %s", rep.ModelName, rep.RequestID, rep.Outcome),
	}
	if job == nil {
		return a
	}
	path, err := s.reports.WriteSKU(job.req, rep.ModelName, job.samples, rep.Outcome, now)
	if err != nil {
		s.log.Error("sku report failed", "sku", rep.Key, "error", err)
		a.Severity = alert.SeverityWarn
		a.Body = "report could not be written: " + err.Error()
		return a
	}
	rep.Path = path
	s.mu.Lock()
	if stored, ok := s.st.Reports[rep.Key]; ok {
		stored.Path = path
		s.st.Reports[rep.Key] = stored
	}
	s.mu.Unlock()
	a.Body = path
	return a
}

// AddMachine registers a machine and schedules.
func (s *Supervisor) AddMachine(ctx context.Context, m lab.Machine) (scheduler.PassResult, error) {
	return s.mutate(ctx, func(reg *registry.Registry) error { return reg.AddMachine(m) })
}

// RemoveMachine deletes an idle machine.
func (s *Supervisor) RemoveMachine(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, func(reg *registry.Registry) error { return reg.RemoveMachine(id) })
	return err
}

// AddTechnician registers a technician and schedules.
func (s *Supervisor) AddTechnician(ctx context.Context, t lab.Technician) (scheduler.PassResult, error) {
	return s.mutate(ctx, func(reg *registry.Registry) error { return reg.AddTechnician(t) })
}

// RemoveTechnician deletes a technician without assigned tests.
func (s *Supervisor) RemoveTechnician(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, func(reg *registry.Registry) error { return reg.RemoveTechnician(id) })
	return err
}

func (s *Supervisor) mutate(ctx context.Context, fn func(*registry.Registry) error) (scheduler.PassResult, error) {
	s.mu.Lock()
	if err := fn(registry.New(s.st, s.cal)); err != nil {
		s.mu.Unlock()
		return scheduler.PassResult{}, err
	}
	res, pending := s.passLocked(s.now())
	s.mu.Unlock()

	s.raise(ctx, pending)
	return res, nil
}

// SchedulePass runs a rescan pass.
func (s *Supervisor) SchedulePass(ctx context.Context) scheduler.PassResult {
	s.mu.Lock()
	res, pending := s.passLocked(s.now())
	s.mu.Unlock()

	s.raise(ctx, pending)
	return res
}

// ShiftTick runs the handover check and, when a shift ended or the primary
// shift changed, a pass so incoming technicians pick up waiting work.
func (s *Supervisor) ShiftTick(ctx context.Context) handover.Result {
	s.mu.Lock()
	now := s.now()
	res := handover.Run(s.st, s.cal, now, s.log)
	to := s.cal.Primary(now)
	var pending []models.Alert
	if res.Changed || len(res.Ended) > 0 {
		subject := fmt.Sprintf("Shift %s handed over to %s", res.From, res.To)
		if !res.Changed {
			subject = fmt.Sprintf("Shift %s ended, work moved to %s", joinShifts(res.Ended), to)
		}
		pending = append(pending, models.Alert{
			Kind:     alert.KindHandover,
			Severity: alert.SeverityInfo,
			Subject:  subject,
			Body:     fmt.Sprintf("%d tests handed over, %d left unattended", len(res.Entries), len(res.Unattended)),
		})
		for _, ref := range res.Unattended {
			pending = append(pending, models.Alert{
				Kind:      alert.KindUnattended,
				Severity:  alert.SeverityWarn,
				RequestID: requestOf(s.st, ref.SampleID),
				SampleID:  ref.SampleID,
				Test:      ref.Test,
				Subject:   fmt.Sprintf("No %s technician to take over %s", to, ref.Test),
			})
		}
		_, more := s.passLocked(now)
		pending = append(pending, more...)
	}
	s.mu.Unlock()

	s.raise(ctx, pending)
	return res
}

func joinShifts(ids []shift.ID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}

// passLocked runs a scheduling pass, refreshes technician utilization and
// returns alerts for new shortages. Callers hold s.mu.
func (s *Supervisor) passLocked(now time.Time) (scheduler.PassResult, []models.Alert) {
	res := s.sched.Pass(s.st, s.cal, now)
	s.st.UpdatedAt = now

	_, usage := metrics.TechnicianUtilization(s.st, s.cal, now)
	byID := make(map[string]float64, len(usage))
	for _, u := range usage {
		byID[u.ID] = u.Utilization
	}
	for i := range s.st.Technicians {
		s.st.Technicians[i].CurrentUtilization = byID[s.st.Technicians[i].ID]
	}

	var pending []models.Alert
	still := make(map[lab.TestRef]string, len(res.Deferred))
	for _, d := range res.Deferred {
		ref := lab.TestRef{SampleID: d.SampleID, Test: d.Test}
		still[ref] = d.Reason
		if !shortage(d.Reason) || s.deferred[ref] == d.Reason {
			continue
		}
		pending = append(pending, models.Alert{
			Kind:      alert.KindShortage,
			Severity:  alert.SeverityWarn,
			RequestID: requestOf(s.st, d.SampleID),
			SampleID:  d.SampleID,
			Test:      d.Test,
			Subject:   fmt.Sprintf("%s waiting: %s", d.Test, d.Reason),
			Body:      d.Detail,
		})
	}
	s.deferred = still

	for _, ref := range res.Unattended {
		pending = append(pending, models.Alert{
			Kind:      alert.KindUnattended,
			Severity:  alert.SeverityWarn,
			RequestID: requestOf(s.st, ref.SampleID),
			SampleID:  ref.SampleID,
			Test:      ref.Test,
			Subject:   fmt.Sprintf("%s started without a technician", ref.Test),
		})
	}
	for _, sf := range res.Shortfalls {
		pending = append(pending, models.Alert{
			Kind:      alert.KindShortfall,
			Severity:  alert.SeverityWarn,
			RequestID: requestOf(s.st, sf.SampleID),
			SampleID:  sf.SampleID,
			Test:      sf.Test,
			Subject:   fmt.Sprintf("%s has %d of %d technicians", sf.Test, sf.Assigned, sf.Required),
		})
	}
	if len(res.Started) > 0 || res.Duplicates > 0 {
		s.log.Info("scheduling pass", "result", res.String())
	}
	return res, pending
}

// raise records alerts outside the lock; notifiers may do network IO.
func (s *Supervisor) raise(ctx context.Context, pending []models.Alert) {
	if s.alerts == nil {
		return
	}
	for _, a := range pending {
		if _, err := s.alerts.Raise(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("alert failed", "kind", a.Kind, "error", err)
		}
	}
}

// Run performs an initial shift check and pass, then runs the handover,
// rescan and autosave jobs on their cron schedules until ctx is cancelled.
// The state is saved once more on the way out.
func (s *Supervisor) Run(ctx context.Context) error {
	c := cron.New()
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"handover", s.schedule.Handover, func() { s.ShiftTick(ctx) }},
		{"rescan", s.schedule.Rescan, func() { s.SchedulePass(ctx) }},
		{"autosave", s.schedule.Autosave, func() { s.Save(ctx) }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("supervisor: schedule %s %q: %w", j.name, j.spec, err)
		}
	}

	s.ShiftTick(ctx)
	s.SchedulePass(ctx)

	c.Start()
	s.log.Info("supervisor started", "handover", s.schedule.Handover, "rescan", s.schedule.Rescan, "autosave", s.schedule.Autosave)
	<-ctx.Done()
	<-c.Stop().Done()

	s.Save(context.Background())
	s.log.Info("supervisor stopped")
	return nil
}

// Dashboard computes every metric in one read.
func (s *Supervisor) Dashboard() metrics.Dashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics.Compute(s.st, s.cal, s.now(), s.capacity)
}

// ActiveTests returns the active-test view.
func (s *Supervisor) ActiveTests() []metrics.ActiveTestView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics.ActiveTests(s.st, s.now())
}

// Queue returns the per machine type queue forecast.
func (s *Supervisor) Queue() []metrics.QueueForecast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metrics.QueueDepth(s.st)
}

// Machines returns a copy of the machine pool.
func (s *Supervisor) Machines() []lab.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lab.Machine(nil), s.st.Machines...)
}

// Technicians returns a copy of the roster.
func (s *Supervisor) Technicians() []lab.Technician {
	return s.Snapshot().Technicians
}

// Requests returns a copy of every request.
func (s *Supervisor) Requests() []lab.Request {
	return s.Snapshot().Requests
}

// Request returns a copy of one request.
func (s *Supervisor) Request(id string) (*lab.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.st.FindRequest(id)
	if req == nil {
		return nil, false
	}
	return cloneRequest(req), true
}

// Snapshot returns a deep copy of the whole state.
func (s *Supervisor) Snapshot() *lab.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Clone()
}

func shortage(reason string) bool {
	switch reason {
	case scheduler.ReasonNoMachineType, scheduler.ReasonPoolExhausted, scheduler.ReasonNoTechnician:
		return true
	}
	return false
}

func requestOf(st *lab.State, sampleID string) string {
	if req, _ := st.FindSample(sampleID); req != nil {
		return req.ID
	}
	return ""
}

func cloneRequest(req *lab.Request) *lab.Request {
	if req == nil {
		return nil
	}
	st := &lab.State{Requests: []lab.Request{*req}}
	return &st.Clone().Requests[0]
}
