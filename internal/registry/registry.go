// Package registry manages the lab's machine pool and technician roster on top
// of a lab.State. Callers hold the supervisor lock while mutating.
package registry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
)

// Sentinel errors returned by registry mutations.
var (
	ErrDuplicate      = errors.New("already exists")
	ErrNotFound       = errors.New("not found")
	ErrMachineInUse   = errors.New("machine is referenced by an active test")
	ErrTechnicianBusy = errors.New("technician has assigned tests")
	ErrInvalid        = errors.New("invalid input")
)

// Registry is a view over the machines and technicians of a lab.State.
type Registry struct {
	st  *lab.State
	cal *shift.Calendar
}

// New returns a Registry bound to st and cal.
func New(st *lab.State, cal *shift.Calendar) *Registry {
	return &Registry{st: st, cal: cal}
}

// Calendar returns the shift calendar the registry evaluates against.
func (r *Registry) Calendar() *shift.Calendar {
	return r.cal
}

// TechniciansInShift returns pointers to the technicians on any of the given
// shifts. With no shifts it uses the set active at now.
func (r *Registry) TechniciansInShift(now time.Time, ids ...shift.ID) []*lab.Technician {
	if len(ids) == 0 {
		ids = r.cal.Active(now)
	}
	want := make(map[shift.ID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*lab.Technician
	for i := range r.st.Technicians {
		if want[r.st.Technicians[i].Shift] {
			out = append(out, &r.st.Technicians[i])
		}
	}
	return out
}

// ReserveWorkload adds hours to the technician's workload. Non-positive
// hours are ignored.
func (r *Registry) ReserveWorkload(tech *lab.Technician, hours float64) {
	if tech == nil || hours <= 0 || math.IsNaN(hours) {
		return
	}
	tech.CurrentWorkload += hours
}

// ReleaseWorkload subtracts hours from the technician's workload, clamped at 0.
func (r *Registry) ReleaseWorkload(tech *lab.Technician, hours float64) {
	if tech == nil || hours <= 0 || math.IsNaN(hours) {
		return
	}
	tech.CurrentWorkload = math.Max(0, tech.CurrentWorkload-hours)
}

// AddAssignedTest records that tech is working on ref. Duplicates are ignored.
func (r *Registry) AddAssignedTest(tech *lab.Technician, ref lab.TestRef) {
	if tech == nil {
		return
	}
	for _, existing := range tech.AssignedTests {
		if existing == ref {
			return
		}
	}
	tech.AssignedTests = append(tech.AssignedTests, ref)
}

// RemoveAssignedTest drops ref from the technician's assignments.
func (r *Registry) RemoveAssignedTest(tech *lab.Technician, ref lab.TestRef) {
	if tech == nil {
		return
	}
	kept := tech.AssignedTests[:0]
	for _, existing := range tech.AssignedTests {
		if existing != ref {
			kept = append(kept, existing)
		}
	}
	tech.AssignedTests = kept
}

// Technician looks a technician up by id or name.
func (r *Registry) Technician(key string) *lab.Technician {
	return r.st.FindTechnician(key)
}

// MachinesOfType returns the machines of the given type in registry order.
// Matching ignores case and surrounding spaces.
func (r *Registry) MachinesOfType(typ string) []*lab.Machine {
	want := normalizeType(typ)
	var out []*lab.Machine
	for i := range r.st.Machines {
		if normalizeType(r.st.Machines[i].Type) == want {
			out = append(out, &r.st.Machines[i])
		}
	}
	return out
}

// MachineLoad returns the number of active tests holding machine id.
func (r *Registry) MachineLoad(id string) int {
	n := 0
	for i := range r.st.ActiveTests {
		if r.st.ActiveTests[i].UsesMachine(id) {
			n++
		}
	}
	return n
}

// Occupied reports whether any active test holds machine id.
func (r *Registry) Occupied(id string) bool {
	return r.MachineLoad(id) > 0
}

// AddMachine registers a new machine.
func (r *Registry) AddMachine(m lab.Machine) error {
	m.ID = strings.TrimSpace(m.ID)
	m.Type = strings.TrimSpace(m.Type)
	if m.ID == "" || m.Type == "" {
		return fmt.Errorf("registry: add machine: id and type are required: %w", ErrInvalid)
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if r.st.FindMachine(m.ID) != nil {
		return fmt.Errorf("registry: add machine %s: %w", m.ID, ErrDuplicate)
	}
	r.st.Machines = append(r.st.Machines, m)
	return nil
}

// RemoveMachine deletes a machine that no active test references.
func (r *Registry) RemoveMachine(id string) error {
	idx := -1
	for i := range r.st.Machines {
		if r.st.Machines[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("registry: remove machine %s: %w", id, ErrNotFound)
	}
	if r.Occupied(id) {
		return fmt.Errorf("registry: remove machine %s: %w", id, ErrMachineInUse)
	}
	r.st.Machines = append(r.st.Machines[:idx], r.st.Machines[idx+1:]...)
	return nil
}

// AddTechnician registers a new technician on a configured shift.
func (r *Registry) AddTechnician(t lab.Technician) error {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	if t.ID == "" || t.Name == "" {
		return fmt.Errorf("registry: add technician: id and name are required: %w", ErrInvalid)
	}
	if !r.cal.Has(t.Shift) {
		return fmt.Errorf("registry: add technician %s: unknown shift %q: %w", t.ID, t.Shift, ErrInvalid)
	}
	for _, existing := range r.st.Technicians {
		if existing.ID == t.ID || existing.Name == t.Name {
			return fmt.Errorf("registry: add technician %s: %w", t.ID, ErrDuplicate)
		}
	}
	t.AssignedTests = nil
	t.CurrentWorkload = 0
	t.CurrentUtilization = 0
	r.st.Technicians = append(r.st.Technicians, t)
	return nil
}

// RemoveTechnician deletes a technician with no assigned tests.
func (r *Registry) RemoveTechnician(id string) error {
	idx := -1
	for i := range r.st.Technicians {
		if r.st.Technicians[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("registry: remove technician %s: %w", id, ErrNotFound)
	}
	if len(r.st.Technicians[idx].AssignedTests) > 0 {
		return fmt.Errorf("registry: remove technician %s: %w", id, ErrTechnicianBusy)
	}
	r.st.Technicians = append(r.st.Technicians[:idx], r.st.Technicians[idx+1:]...)
	return nil
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
