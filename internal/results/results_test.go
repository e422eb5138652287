package results

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newRecorder() *Recorder {
	return NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func evidence() lab.Evidence {
	return lab.Evidence{Before: []string{"before.jpg"}, After: []string{"after.jpg"}}
}

func passInput(sample, test string) Input {
	return Input{SampleID: sample, Test: test, Outcome: lab.Pass, Remarks: "ok", Evidence: evidence()}
}

// labState returns one request with the given samples, each running tests
// [Heat, Drop, Seal] and sitting in-progress on Heat with an active test
// assigned to Asha.
func labState(t *testing.T, sampleIDs ...string) *lab.State {
	t.Helper()
	st := lab.NewState()
	st.Technicians = []lab.Technician{{ID: "t1", Name: "Asha", Shift: "A"}}
	req := lab.Request{
		ID:           "R1",
		ProductType:  "Refrigerator",
		ProductClass: "Frost Free",
		SubmittedAt:  noon.Add(-24 * time.Hour),
		Deadline:     noon.Add(24 * time.Hour),
	}
	for _, id := range sampleIDs {
		start := noon.Add(-time.Hour)
		req.Samples = append(req.Samples, lab.Sample{
			ID:        id,
			RequestID: "R1",
			ModelName: "RF-1",
			Tests:     []string{"Heat", "Drop", "Seal"},
			Status:    lab.StatusInProgress,
			StartTime: &start,
		})
		st.ActiveTests = append(st.ActiveTests, lab.ActiveTest{
			SampleID:    id,
			RequestID:   "R1",
			Test:        "Heat",
			Technicians: []string{"Asha"},
			Assignments: []lab.Assignment{{Technician: "Asha", Hours: 1.5}},
		})
		st.Technicians[0].CurrentWorkload += 1.5
		st.Technicians[0].AssignedTests = append(st.Technicians[0].AssignedTests, lab.TestRef{SampleID: id, Test: "Heat"})
	}
	st.Requests = []lab.Request{req}
	return st
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   string
	}{
		{"missing outcome", func(in *Input) { in.Outcome = "" }, "outcome is required"},
		{"skipped not accepted", func(in *Input) { in.Outcome = lab.Skipped }, "must be pass or fail"},
		{"missing remarks", func(in *Input) { in.Remarks = "  " }, "remarks are required"},
		{"fail without nc type", func(in *Input) { in.Outcome = lab.Fail }, "non-conformance type"},
		{"observation without nc type", func(in *Input) { in.NC = true }, "non-conformance type"},
		{"no before evidence", func(in *Input) { in.Evidence.Before = nil }, "before-test evidence"},
		{"no after evidence", func(in *Input) { in.Evidence.After = nil }, "after-test evidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := passInput("S1", "Heat")
			tt.mutate(&in)
			err := Validate(in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestRecord_RejectsWithoutMutation(t *testing.T) {
	st := labState(t, "S1")
	rec := newRecorder()

	in := passInput("S1", "Drop")
	if _, err := rec.Record(st, shift.MustDefault(), in, noon); !errors.Is(err, ErrValidation) {
		t.Fatalf("wrong test error = %v, want ErrValidation", err)
	}
	if _, err := rec.Record(st, shift.MustDefault(), passInput("nope", "Heat"), noon); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown sample error = %v, want ErrNotFound", err)
	}
	if len(st.ActiveTests) != 1 || st.Technicians[0].CurrentWorkload != 1.5 {
		t.Errorf("state mutated by rejected input")
	}
}

func TestRecord_PassAdvancesCursor(t *testing.T) {
	st := labState(t, "S1")

	got, err := newRecorder().Record(st, shift.MustDefault(), passInput("S1", "Heat"), noon)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	s := st.Requests[0].Samples[0]
	if s.CurrentTest != 1 || s.Status != lab.StatusPending {
		t.Errorf("currentTest=%d status=%s, want 1/pending", s.CurrentTest, s.Status)
	}
	if s.StartTime != nil {
		t.Error("StartTime should be cleared when returning to pending")
	}
	if got.SampleCompleted {
		t.Error("sample should not be completed")
	}
	if len(st.ActiveTests) != 0 || len(st.CompletedTests) != 1 {
		t.Errorf("active=%d completed=%d, want 0/1", len(st.ActiveTests), len(st.CompletedTests))
	}
	if st.CompletedTests[0].Outcome != lab.Pass || !st.CompletedTests[0].FinishedAt.Equal(noon) {
		t.Errorf("completed test = %+v", st.CompletedTests[0])
	}
	tech := st.Technicians[0]
	if tech.CurrentWorkload != 0 || len(tech.AssignedTests) != 0 {
		t.Errorf("technician workload=%v assigned=%v, want released", tech.CurrentWorkload, tech.AssignedTests)
	}
	if got.Released["Asha"] != 1.5 {
		t.Errorf("Released = %v", got.Released)
	}
	if _, ok := s.TestFiles["Heat"]; !ok {
		t.Error("evidence not stored")
	}
}

func TestRecord_ReleaseNeverGoesNegative(t *testing.T) {
	st := labState(t, "S1")
	st.Technicians[0].CurrentWorkload = 0.5

	if _, err := newRecorder().Record(st, shift.MustDefault(), passInput("S1", "Heat"), noon); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if w := st.Technicians[0].CurrentWorkload; w != 0 {
		t.Errorf("workload = %v, want 0", w)
	}
}

func TestRecord_FailStopsSample(t *testing.T) {
	st := labState(t, "S1")
	in := passInput("S1", "Heat")
	in.Outcome = lab.Fail
	in.NCType = "Crack"

	got, err := newRecorder().Record(st, shift.MustDefault(), in, noon)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	s := st.Requests[0].Samples[0]
	if s.Status != lab.StatusCompleted {
		t.Fatalf("status = %s, want completed", s.Status)
	}
	if len(got.Skipped) != 2 {
		t.Fatalf("Skipped = %v, want Drop and Seal", got.Skipped)
	}
	for _, name := range []string{"Drop", "Seal"} {
		if s.TestResults[name].Outcome != lab.Skipped {
			t.Errorf("%s outcome = %s, want skipped", name, s.TestResults[name].Outcome)
		}
	}
	if got.SKUReport == nil || got.SKUReport.Outcome != lab.SKUFailed {
		t.Errorf("SKUReport = %+v, want failed", got.SKUReport)
	}
	if !got.RequestCompleted || !got.OnTime {
		t.Errorf("request completed=%v onTime=%v, want true/true", got.RequestCompleted, got.OnTime)
	}
	if st.Counters.TotalCompletions != 1 || st.Counters.OnTimeCompletions != 1 {
		t.Errorf("Counters = %+v", st.Counters)
	}
}

func TestRecord_FailWithContinue(t *testing.T) {
	st := labState(t, "S1")
	in := passInput("S1", "Heat")
	in.Outcome = lab.Fail
	in.NCType = "Crack"
	in.ContinueOnFail = true

	if _, err := newRecorder().Record(st, shift.MustDefault(), in, noon); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s := st.Requests[0].Samples[0]
	if s.Status != lab.StatusPending || s.CurrentTest != 1 {
		t.Errorf("status=%s currentTest=%d, want pending/1", s.Status, s.CurrentTest)
	}
}

func TestRecord_LastTestCompletes(t *testing.T) {
	st := labState(t, "S1")
	s := &st.Requests[0].Samples[0]
	s.CurrentTest = 2
	st.ActiveTests[0].Test = "Seal"
	in := passInput("S1", "Seal")
	in.NC = true
	in.NCType = "Cosmetic"

	got, err := newRecorder().Record(st, shift.MustDefault(), in, noon)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !got.SampleCompleted || s.CurrentTest != 3 {
		t.Errorf("completed=%v currentTest=%d", got.SampleCompleted, s.CurrentTest)
	}
	if got.SKUReport == nil || got.SKUReport.Outcome != lab.SKUPassedWithNotes {
		t.Errorf("SKUReport = %+v, want passed-with-observation", got.SKUReport)
	}
}

func TestRecord_SKUReportOnceAllSamplesDone(t *testing.T) {
	st := labState(t, "S1", "S2")
	for i := range st.Requests[0].Samples {
		st.Requests[0].Samples[i].CurrentTest = 2
		st.ActiveTests[i].Test = "Seal"
	}
	rec := newRecorder()

	first, err := rec.Record(st, shift.MustDefault(), passInput("S1", "Seal"), noon)
	if err != nil {
		t.Fatalf("Record S1: %v", err)
	}
	if first.SKUReport != nil || first.RequestCompleted {
		t.Error("SKU should wait for S2")
	}
	late := noon.Add(48 * time.Hour)
	second, err := rec.Record(st, shift.MustDefault(), passInput("S2", "Seal"), late)
	if err != nil {
		t.Fatalf("Record S2: %v", err)
	}
	if second.SKUReport == nil || second.SKUReport.Outcome != lab.SKUPassed {
		t.Fatalf("SKUReport = %+v, want passed", second.SKUReport)
	}
	if len(st.Reports) != 1 {
		t.Errorf("len(Reports) = %d, want 1", len(st.Reports))
	}
	if !second.RequestCompleted || second.OnTime {
		t.Errorf("completed=%v onTime=%v, want late completion", second.RequestCompleted, second.OnTime)
	}
	if st.Counters.TotalCompletions != 1 || st.Counters.OnTimeCompletions != 0 {
		t.Errorf("Counters = %+v", st.Counters)
	}
}

func TestSKUOutcome(t *testing.T) {
	clean := &lab.Sample{TestResults: map[string]lab.Result{"A": {Outcome: lab.Pass}}}
	noted := &lab.Sample{TestResults: map[string]lab.Result{"A": {Outcome: lab.Pass, NC: true}}}
	failed := &lab.Sample{TestResults: map[string]lab.Result{"A": {Outcome: lab.Fail, NC: true}, "B": {Outcome: lab.Skipped}}}

	if got := SKUOutcome([]*lab.Sample{clean, clean}); got != lab.SKUPassed {
		t.Errorf("clean = %s", got)
	}
	if got := SKUOutcome([]*lab.Sample{clean, noted}); got != lab.SKUPassedWithNotes {
		t.Errorf("noted = %s", got)
	}
	if got := SKUOutcome([]*lab.Sample{noted, failed}); got != lab.SKUFailed {
		t.Errorf("failed = %s", got)
	}
}
