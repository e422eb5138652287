package lab

import (
	"encoding/json"
	"fmt"
)

// FindSample returns the sample with id and its request.
func (s *State) FindSample(id string) (*Request, *Sample) {
	for i := range s.Requests {
		r := &s.Requests[i]
		for j := range r.Samples {
			if r.Samples[j].ID == id {
				return r, &r.Samples[j]
			}
		}
	}
	return nil, nil
}

// FindRequest returns the request with id.
func (s *State) FindRequest(id string) *Request {
	for i := range s.Requests {
		if s.Requests[i].ID == id {
			return &s.Requests[i]
		}
	}
	return nil
}

// FindActiveTest returns the active test for (sampleID, test), or nil.
func (s *State) FindActiveTest(sampleID, test string) *ActiveTest {
	for i := range s.ActiveTests {
		a := &s.ActiveTests[i]
		if a.SampleID == sampleID && a.Test == test {
			return a
		}
	}
	return nil
}

// HasActiveTest reports whether an active test exists for (sampleID, test).
func (s *State) HasActiveTest(sampleID, test string) bool {
	return s.FindActiveTest(sampleID, test) != nil
}

// RemoveActiveTest deletes the active test for (sampleID, test) and returns it.
func (s *State) RemoveActiveTest(sampleID, test string) (ActiveTest, bool) {
	for i := range s.ActiveTests {
		a := s.ActiveTests[i]
		if a.SampleID == sampleID && a.Test == test {
			s.ActiveTests = append(s.ActiveTests[:i], s.ActiveTests[i+1:]...)
			return a, true
		}
	}
	return ActiveTest{}, false
}

// DedupActiveTests keeps the first active test of every (sampleID, test) pair
// and drops the rest. It returns the number removed.
func (s *State) DedupActiveTests() int {
	seen := make(map[TestRef]bool, len(s.ActiveTests))
	kept := s.ActiveTests[:0]
	removed := 0
	for _, a := range s.ActiveTests {
		ref := a.Ref()
		if seen[ref] {
			removed++
			continue
		}
		seen[ref] = true
		kept = append(kept, a)
	}
	s.ActiveTests = kept
	return removed
}

// FindMachine returns the machine with id.
func (s *State) FindMachine(id string) *Machine {
	for i := range s.Machines {
		if s.Machines[i].ID == id {
			return &s.Machines[i]
		}
	}
	return nil
}

// FindTechnician returns the technician whose id or name matches key.
func (s *State) FindTechnician(key string) *Technician {
	for i := range s.Technicians {
		if s.Technicians[i].ID == key {
			return &s.Technicians[i]
		}
	}
	for i := range s.Technicians {
		if s.Technicians[i].Name == key {
			return &s.Technicians[i]
		}
	}
	return nil
}

// SKUSamples returns every sample sharing the SKU key of the given sample.
func (s *State) SKUSamples(req *Request, modelName string) []*Sample {
	key := req.SKUKey(modelName)
	var out []*Sample
	for i := range s.Requests {
		r := &s.Requests[i]
		for j := range r.Samples {
			if r.SKUKey(r.Samples[j].ModelName) == key {
				out = append(out, &r.Samples[j])
			}
		}
	}
	return out
}

// Clone returns a deep copy through a JSON round trip.
func (s *State) Clone() *State {
	data, err := json.Marshal(s)
	if err != nil {
		return NewState()
	}
	out, err := Decode(data)
	if err != nil {
		return NewState()
	}
	return out
}

// Encode serializes the state for the snapshot store.
func Encode(s *State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("lab: encode state: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot produced by Encode.
func Decode(data []byte) (*State, error) {
	st := NewState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("lab: decode state: %w", err)
	}
	if st.Reports == nil {
		st.Reports = make(map[string]SKUReport)
	}
	return st, nil
}

// Merge overlays the non-empty top-level fields of snap onto base, matching
// the shallow merge done when a saved snapshot is loaded over defaults.
func Merge(base, snap *State) *State {
	if snap == nil {
		return base
	}
	out := base
	if out == nil {
		out = NewState()
	}
	if snap.Machines != nil {
		out.Machines = snap.Machines
	}
	if snap.Technicians != nil {
		out.Technicians = snap.Technicians
	}
	if snap.Requests != nil {
		out.Requests = snap.Requests
	}
	if snap.ActiveTests != nil {
		out.ActiveTests = snap.ActiveTests
	}
	if snap.CompletedTests != nil {
		out.CompletedTests = snap.CompletedTests
	}
	if snap.Counters != (Counters{}) {
		out.Counters = snap.Counters
	}
	if len(snap.Reports) > 0 {
		out.Reports = snap.Reports
	}
	if snap.LastShift != "" {
		out.LastShift = snap.LastShift
	}
	if len(snap.LastActive) > 0 {
		out.LastActive = snap.LastActive
	}
	if !snap.UpdatedAt.IsZero() {
		out.UpdatedAt = snap.UpdatedAt
	}
	if out.Reports == nil {
		out.Reports = make(map[string]SKUReport)
	}
	return out
}
