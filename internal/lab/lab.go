// Package lab defines the lab's state tree: machines, technicians, requests,
// samples and the tests currently running. The whole State is the persisted
// snapshot.
package lab

import (
	"fmt"
	"strings"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// AutoAssign is the sample technician value that asks the scheduler to pick
// technicians from the current shift.
const AutoAssign = "Auto-assigned"

// SampleStatus is the lifecycle state of a sample.
type SampleStatus string

// Sample status constants.
const (
	StatusPending    SampleStatus = "pending"
	StatusInProgress SampleStatus = "in-progress"
	StatusCompleted  SampleStatus = "completed"
)

// Outcome is the recorded verdict of one test on one sample.
type Outcome string

// Outcome constants. Skipped is only produced when a sample is stopped after
// a failure.
const (
	Pass    Outcome = "pass"
	Fail    Outcome = "fail"
	Skipped Outcome = "skipped"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	return o == Pass || o == Fail || o == Skipped
}

// ActiveStatus describes an in-flight test.
type ActiveStatus string

// ActiveTest status constants.
const (
	ActiveRunning    ActiveStatus = "running"
	ActiveUnattended ActiveStatus = "unattended"
)

// SKUOutcome summarizes every sample of one SKU.
type SKUOutcome string

// SKU outcome constants.
const (
	SKUPassed          SKUOutcome = "passed"
	SKUPassedWithNotes SKUOutcome = "passed-with-observation"
	SKUFailed          SKUOutcome = "failed"
)

// Machine is one physical test machine. Machines of the same Type form a pool.
type Machine struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TestRef points at one (sample, test) pair.
type TestRef struct {
	SampleID string `json:"sampleId"`
	Test     string `json:"test"`
}

// Technician is a lab technician with a fixed shift and a running workload.
type Technician struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	Shift              shift.ID  `json:"shift" yaml:"shift"`
	AssignedTests      []TestRef `json:"assignedTests" yaml:"-"`
	CurrentWorkload    float64   `json:"currentWorkload" yaml:"-"`
	CurrentUtilization float64   `json:"currentUtilization" yaml:"-"`
}

// TestDefinition is an immutable catalog template. CycleTime is machine hours,
// ManHours is technician labor within that window. An empty Machines list
// means the test needs no machine.
type TestDefinition struct {
	Name              string   `json:"name" yaml:"name"`
	CycleTime         float64  `json:"cycleTime" yaml:"cycle_time"`
	ManHours          float64  `json:"manHours" yaml:"man_hours"`
	Machines          []string `json:"machines" yaml:"machines"`
	Technicians       int      `json:"technicians" yaml:"technicians"`
	SpecificationSets []string `json:"specificationSets,omitempty" yaml:"specification_sets"`
	Procedure         string   `json:"procedure,omitempty" yaml:"procedure"`
}

// RequiresMachine reports whether the test must reserve at least one machine.
func (d TestDefinition) RequiresMachine() bool {
	return len(d.Machines) > 0
}

// Validate checks the man-hour and headcount invariants.
func (d TestDefinition) Validate() error {
	var errs []string
	if d.Name == "" {
		errs = append(errs, "name is required")
	}
	if d.CycleTime <= 0 {
		errs = append(errs, "cycle time must be positive")
	}
	if d.ManHours <= 0 || d.ManHours > d.CycleTime {
		errs = append(errs, "man hours must satisfy 0 < man_hours <= cycle_time")
	}
	if d.Technicians < 1 {
		errs = append(errs, "at least one technician is required")
	}
	for i, m := range d.Machines {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Sprintf("machines[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("test %q: %s", d.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Clone returns a deep copy.
func (d TestDefinition) Clone() TestDefinition {
	d.Machines = append([]string(nil), d.Machines...)
	d.SpecificationSets = append([]string(nil), d.SpecificationSets...)
	return d
}

// Result is the operator's verdict on one test.
type Result struct {
	Outcome    Outcome   `json:"outcome"`
	Remarks    string    `json:"remarks,omitempty"`
	NC         bool      `json:"nc,omitempty"`
	NCType     string    `json:"ncType,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Evidence lists the before/after capture references for one test.
type Evidence struct {
	Before []string `json:"before,omitempty"`
	After  []string `json:"after,omitempty"`
}

// Sample is one physical unit running its own copy of a test sequence.
// CurrentTest only moves forward.
type Sample struct {
	ID                  string              `json:"id"`
	RequestID           string              `json:"requestId"`
	ModelName           string              `json:"modelName"`
	SKU                 string              `json:"sku"`
	SampleNumber        int                 `json:"sampleNumber"`
	Tests               []string            `json:"tests"`
	TestConfigs         []TestDefinition    `json:"testConfigs"`
	Technician          string              `json:"technician"`
	Status              SampleStatus        `json:"status"`
	CurrentTest         int                 `json:"currentTest"`
	StartTime           *time.Time          `json:"startTime,omitempty"`
	EstimatedCompletion *time.Time          `json:"estimatedCompletion,omitempty"`
	CompletedAt         *time.Time          `json:"completedAt,omitempty"`
	TestResults         map[string]Result   `json:"testResults"`
	TestFiles           map[string]Evidence `json:"testFiles"`
}

// AutoAssigned reports whether the scheduler should pick technicians.
func (s *Sample) AutoAssigned() bool {
	return s.Technician == "" || s.Technician == AutoAssign
}

// CurrentConfig returns the definition of the current test.
func (s *Sample) CurrentConfig() (TestDefinition, bool) {
	if s.CurrentTest < 0 || s.CurrentTest >= len(s.TestConfigs) || s.CurrentTest >= len(s.Tests) {
		return TestDefinition{}, false
	}
	return s.TestConfigs[s.CurrentTest], true
}

// CurrentTestName returns the name of the current test, or "" past the end.
func (s *Sample) CurrentTestName() string {
	if s.CurrentTest < 0 || s.CurrentTest >= len(s.Tests) {
		return ""
	}
	return s.Tests[s.CurrentTest]
}

// HasMoreTests reports whether tests after the current one exist.
func (s *Sample) HasMoreTests() bool {
	return s.CurrentTest+1 < len(s.Tests)
}

// Request groups the samples submitted together.
type Request struct {
	ID           string     `json:"id"`
	ProductType  string     `json:"productType"`
	ProductClass string     `json:"productClass"`
	TestType     string     `json:"testType"`
	SubmittedAt  time.Time  `json:"submittedAt"`
	Deadline     time.Time  `json:"deadline"`
	Samples      []Sample   `json:"samples"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	OnTime       bool       `json:"onTime,omitempty"`
}

// SKUKey identifies a SKU: productClass + productType + modelName + requestID.
func (r *Request) SKUKey(modelName string) string {
	return strings.Join([]string{r.ProductClass, r.ProductType, modelName, r.ID}, "|")
}

// AllCompleted reports whether every sample is completed.
func (r *Request) AllCompleted() bool {
	if len(r.Samples) == 0 {
		return false
	}
	for i := range r.Samples {
		if r.Samples[i].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// WorkPeriod is a window of technician attendance, in hours from test start.
type WorkPeriod struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Assignment is the labor one technician reserved for an active test.
type Assignment struct {
	Technician string  `json:"technician"`
	Hours      float64 `json:"hours"`
}

// HandoverEntry is the audit record of in-flight work moving between shifts.
type HandoverEntry struct {
	FromShift          shift.ID  `json:"fromShift"`
	ToShift            shift.ID  `json:"toShift"`
	PreviousTechnician string    `json:"previousTechnician"`
	NewTechnician      string    `json:"newTechnician"`
	HandoverTime       time.Time `json:"handoverTime"`
	RemainingManHours  float64   `json:"remainingManHours"`
	RemainingCycleTime float64   `json:"remainingCycleTime"`
}

// ActiveTest is the runtime record of a sample executing one test.
type ActiveTest struct {
	ID                  string          `json:"id"`
	SampleID            string          `json:"sampleId"`
	RequestID           string          `json:"requestId"`
	Test                string          `json:"test"`
	AssignedMachines    []string        `json:"assignedMachines"`
	MachineNames        []string        `json:"machineNames"`
	Technicians         []string        `json:"technicians"`
	Assignments         []Assignment    `json:"assignments"`
	ManHours            float64         `json:"manHours"`
	CycleTime           float64         `json:"cycleTime"`
	TechniciansRequired int             `json:"techniciansRequired"`
	StartTime           time.Time       `json:"startTime"`
	EstimatedCompletion time.Time       `json:"estimatedCompletion"`
	WorkPeriods         []WorkPeriod    `json:"technicianWorkPeriods"`
	Status              ActiveStatus    `json:"status"`
	Spillover           float64         `json:"spillover,omitempty"`
	NeedsHandover       bool            `json:"needsHandover,omitempty"`
	Handovers           []HandoverEntry `json:"handovers,omitempty"`
}

// TechnicianLabel returns the comma-joined technician names.
func (a *ActiveTest) TechnicianLabel() string {
	return strings.Join(a.Technicians, ", ")
}

// Ref returns the (sample, test) pair of the active test.
func (a *ActiveTest) Ref() TestRef {
	return TestRef{SampleID: a.SampleID, Test: a.Test}
}

// HasTechnician reports whether name is one of the assigned technicians.
func (a *ActiveTest) HasTechnician(name string) bool {
	for _, n := range a.Technicians {
		if n == name {
			return true
		}
	}
	return false
}

// UsesMachine reports whether the test holds machine id.
func (a *ActiveTest) UsesMachine(id string) bool {
	for _, m := range a.AssignedMachines {
		if m == id {
			return true
		}
	}
	return false
}

// CompletedTest is an ActiveTest that has received its result.
type CompletedTest struct {
	ActiveTest
	Outcome    Outcome   `json:"outcome"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Counters are the on-time completion counters.
type Counters struct {
	TotalCompletions  int `json:"totalCompletions"`
	OnTimeCompletions int `json:"onTimeCompletions"`
}

// SKUReport records that the report for a SKU has been produced.
type SKUReport struct {
	Key         string     `json:"key"`
	RequestID   string     `json:"requestId"`
	ModelName   string     `json:"modelName"`
	Outcome     SKUOutcome `json:"outcome"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Path        string     `json:"path,omitempty"`
}

// State is the lab's entire mutable state.
type State struct {
	Machines       []Machine            `json:"machines"`
	Technicians    []Technician         `json:"technicians"`
	Requests       []Request            `json:"requests"`
	ActiveTests    []ActiveTest         `json:"activeTests"`
	CompletedTests []CompletedTest      `json:"completedTests"`
	Counters       Counters             `json:"counters"`
	Reports        map[string]SKUReport `json:"reports"`
	LastShift      shift.ID             `json:"lastShift,omitempty"`
	LastActive     []shift.ID           `json:"lastActive,omitempty"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// NewState returns an empty state with its maps allocated.
func NewState() *State {
	return &State{Reports: make(map[string]SKUReport)}
}
