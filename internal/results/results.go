// Package results records operator verdicts and advances samples through
// their test sequence.
package results

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/registry"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// ErrValidation marks input rejected before any state was touched.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is returned when the sample does not exist.
var ErrNotFound = errors.New("sample not found")

// Input is one recorded verdict.
type Input struct {
	SampleID       string       `json:"sampleId"`
	Test           string       `json:"test"`
	Outcome        lab.Outcome  `json:"outcome"`
	Remarks        string       `json:"remarks"`
	NC             bool         `json:"nc"`
	NCType         string       `json:"ncType,omitempty"`
	Evidence       lab.Evidence `json:"evidence"`
	ContinueOnFail bool         `json:"continueOnFail"`
}

// Recorded describes what a verdict changed.
type Recorded struct {
	SampleID         string             `json:"sampleId"`
	Test             string             `json:"test"`
	SampleCompleted  bool               `json:"sampleCompleted"`
	Skipped          []string           `json:"skipped,omitempty"`
	Released         map[string]float64 `json:"released,omitempty"`
	SKUReport        *lab.SKUReport     `json:"skuReport,omitempty"`
	RequestCompleted bool               `json:"requestCompleted"`
	OnTime           bool               `json:"onTime"`
}

// Recorder applies verdicts to a lab.State.
type Recorder struct {
	log *slog.Logger
}

// NewRecorder returns a Recorder logging to logger, or slog.Default when nil.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: logger}
}

// Validate checks the verdict fields that do not depend on state.
func Validate(in Input) error {
	var errs []string
	if in.SampleID == "" {
		errs = append(errs, "sample id is required")
	}
	if in.Test == "" {
		errs = append(errs, "test is required")
	}
	switch in.Outcome {
	case lab.Pass, lab.Fail:
	case "":
		errs = append(errs, "outcome is required")
	default:
		errs = append(errs, fmt.Sprintf("outcome %q must be pass or fail", in.Outcome))
	}
	if strings.TrimSpace(in.Remarks) == "" {
		errs = append(errs, "remarks are required")
	}
	if (in.Outcome == lab.Fail || in.NC) && strings.TrimSpace(in.NCType) == "" {
		errs = append(errs, "non-conformance type is required for a failure or observation")
	}
	if len(in.Evidence.Before) == 0 {
		errs = append(errs, "before-test evidence is required")
	}
	if len(in.Evidence.After) == 0 {
		errs = append(errs, "after-test evidence is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("results: %w: %s", ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// Record applies in to st at now. Nothing is mutated when an error is returned.
func (r *Recorder) Record(st *lab.State, cal *shift.Calendar, in Input, now time.Time) (*Recorded, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	req, sample := st.FindSample(in.SampleID)
	if sample == nil {
		return nil, fmt.Errorf("results: record %s: %w", in.SampleID, ErrNotFound)
	}
	if sample.Status != lab.StatusInProgress {
		return nil, fmt.Errorf("results: record %s: %w: sample is %s, not in-progress", in.SampleID, ErrValidation, sample.Status)
	}
	if current := sample.CurrentTestName(); current != in.Test {
		return nil, fmt.Errorf("results: record %s: %w: current test is %q, not %q", in.SampleID, ErrValidation, current, in.Test)
	}

	out := &Recorded{SampleID: sample.ID, Test: in.Test}
	out.Released = r.release(st, cal, sample.ID, in.Test, in.Outcome, now)

	if sample.TestResults == nil {
		sample.TestResults = make(map[string]lab.Result)
	}
	if sample.TestFiles == nil {
		sample.TestFiles = make(map[string]lab.Evidence)
	}
	sample.TestResults[in.Test] = lab.Result{
		Outcome:    in.Outcome,
		Remarks:    strings.TrimSpace(in.Remarks),
		NC:         in.NC || in.Outcome == lab.Fail,
		NCType:     strings.TrimSpace(in.NCType),
		RecordedAt: now,
	}
	sample.TestFiles[in.Test] = in.Evidence

	switch {
	case in.Outcome == lab.Fail && sample.HasMoreTests() && !in.ContinueOnFail:
		for _, name := range sample.Tests[sample.CurrentTest+1:] {
			sample.TestResults[name] = lab.Result{
				Outcome:    lab.Skipped,
				Remarks:    fmt.Sprintf("not run: %s failed", in.Test),
				RecordedAt: now,
			}
			out.Skipped = append(out.Skipped, name)
		}
		r.complete(sample, now)
	case !sample.HasMoreTests():
		r.complete(sample, now)
	default:
		sample.CurrentTest++
		sample.Status = lab.StatusPending
		sample.StartTime = nil
		sample.EstimatedCompletion = nil
	}

	if sample.Status != lab.StatusCompleted {
		return out, nil
	}
	out.SampleCompleted = true
	r.log.Info("sample completed", "sample", sample.ID, "skipped", len(out.Skipped))

	if rep := r.skuReport(st, req, sample.ModelName, now); rep != nil {
		out.SKUReport = rep
	}
	if req.AllCompleted() && req.CompletedAt == nil {
		done := now
		req.CompletedAt = &done
		req.OnTime = !req.Deadline.IsZero() && !now.After(req.Deadline)
		st.Counters.TotalCompletions++
		if req.OnTime {
			st.Counters.OnTimeCompletions++
		}
		out.RequestCompleted = true
		out.OnTime = req.OnTime
		r.log.Info("request completed", "request", req.ID, "on_time", req.OnTime)
	}
	return out, nil
}

// release frees the labor reserved for the active test and moves it to the
// completed list. It returns hours released per technician.
func (r *Recorder) release(st *lab.State, cal *shift.Calendar, sampleID, test string, outcome lab.Outcome, now time.Time) map[string]float64 {
	reg := registry.New(st, cal)
	ref := lab.TestRef{SampleID: sampleID, Test: test}

	at, ok := st.RemoveActiveTest(sampleID, test)
	if !ok {
		r.log.Warn("no active test for recorded result", "sample", sampleID, "test", test)
	}
	released := make(map[string]float64, len(at.Assignments))
	for _, a := range at.Assignments {
		tech := reg.Technician(a.Technician)
		if tech == nil {
			continue
		}
		reg.ReleaseWorkload(tech, a.Hours)
		released[a.Technician] += a.Hours
	}
	for i := range st.Technicians {
		reg.RemoveAssignedTest(&st.Technicians[i], ref)
	}
	if ok {
		st.CompletedTests = append(st.CompletedTests, lab.CompletedTest{ActiveTest: at, Outcome: outcome, FinishedAt: now})
	}
	return released
}

func (r *Recorder) complete(sample *lab.Sample, now time.Time) {
	done := now
	sample.Status = lab.StatusCompleted
	sample.CurrentTest = len(sample.Tests)
	sample.CompletedAt = &done
}

// skuReport registers the SKU outcome once every sample of the SKU is done.
func (r *Recorder) skuReport(st *lab.State, req *lab.Request, modelName string, now time.Time) *lab.SKUReport {
	key := req.SKUKey(modelName)
	if _, done := st.Reports[key]; done {
		return nil
	}
	samples := st.SKUSamples(req, modelName)
	for _, s := range samples {
		if s.Status != lab.StatusCompleted {
			return nil
		}
	}
	rep := lab.SKUReport{
		Key:         key,
		RequestID:   req.ID,
		ModelName:   modelName,
		Outcome:     SKUOutcome(samples),
		GeneratedAt: now,
	}
	if st.Reports == nil {
		st.Reports = make(map[string]lab.SKUReport)
	}
	st.Reports[key] = rep
	r.log.Info("sku finished", "sku", key, "outcome", rep.Outcome)
	return &rep
}

// SKUOutcome folds sample results: any failure fails the SKU, any
// non-conformance without failure is an observation.
func SKUOutcome(samples []*lab.Sample) lab.SKUOutcome {
	observed := false
	for _, s := range samples {
		for _, res := range s.TestResults {
			if res.Outcome == lab.Fail {
				return lab.SKUFailed
			}
			if res.NC {
				observed = true
			}
		}
	}
	if observed {
		return lab.SKUPassedWithNotes
	}
	return lab.SKUPassed
}
