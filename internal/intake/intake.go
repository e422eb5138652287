// Package intake validates test-request submissions and turns them into
// lab.Request records with one sample per physical unit.
package intake

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RohitKumar027/ReliabilityPortal/internal/catalog"
	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
)

// ErrValidation marks a submission rejected before any state was touched.
var ErrValidation = errors.New("validation failed")

// Submission is a request as entered by the requester.
type Submission struct {
	ProductType  string `json:"productType"`
	ProductClass string `json:"productClass"`
	TestType     string `json:"testType"`
	SKUs         []SKU  `json:"skus"`
}

// SKU is one model under test and its samples.
type SKU struct {
	ModelName string       `json:"modelName"`
	Samples   []SampleSpec `json:"samples"`
}

// SampleSpec is the test plan for one physical sample.
type SampleSpec struct {
	Tests      []TestChoice `json:"tests"`
	Technician string       `json:"technician,omitempty"`
}

// TestChoice selects a catalog test, its position in the run order and
// optionally the specification set to apply.
type TestChoice struct {
	Name             string `json:"name"`
	Sequence         int    `json:"sequence"`
	SpecificationSet string `json:"specificationSet,omitempty"`
}

// Uniform builds a submission where every SKU gets samplesPerSKU samples
// running the same tests in the given order.
func Uniform(productType, productClass, testType string, models []string, samplesPerSKU int, tests []string, technician string) Submission {
	sub := Submission{ProductType: productType, ProductClass: productClass, TestType: testType}
	for _, model := range models {
		sku := SKU{ModelName: model}
		for n := 0; n < samplesPerSKU; n++ {
			spec := SampleSpec{Technician: technician}
			for i, name := range tests {
				spec.Tests = append(spec.Tests, TestChoice{Name: name, Sequence: i + 1})
			}
			sku.Samples = append(sku.Samples, spec)
		}
		sub.SKUs = append(sub.SKUs, sku)
	}
	return sub
}

// Validate checks the submission against the catalog without building anything.
func Validate(sub Submission, cat *catalog.Catalog) error {
	var errs []string
	if strings.TrimSpace(sub.ProductType) == "" {
		errs = append(errs, "product type is required")
	}
	if strings.TrimSpace(sub.ProductClass) == "" {
		errs = append(errs, "product class is required")
	}
	if strings.TrimSpace(sub.TestType) == "" {
		errs = append(errs, "test type is required")
	}
	if len(sub.SKUs) == 0 {
		errs = append(errs, "at least one SKU is required")
	}
	for i, sku := range sub.SKUs {
		if strings.TrimSpace(sku.ModelName) == "" {
			errs = append(errs, fmt.Sprintf("skus[%d]: model name is required", i))
		}
		if len(sku.Samples) == 0 {
			errs = append(errs, fmt.Sprintf("skus[%d]: at least one sample is required", i))
		}
		for j, s := range sku.Samples {
			errs = append(errs, validateSample(fmt.Sprintf("skus[%d].samples[%d]", i, j), sub.ProductType, s, cat)...)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("intake: %w: %s", ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

func validateSample(where, category string, s SampleSpec, cat *catalog.Catalog) []string {
	var errs []string
	if len(s.Tests) == 0 {
		return []string{where + ": at least one test is required"}
	}
	seqs := make(map[int]bool, len(s.Tests))
	names := make(map[string]bool, len(s.Tests))
	for _, tc := range s.Tests {
		if tc.Sequence < 1 {
			errs = append(errs, fmt.Sprintf("%s: test %q needs a positive sequence number", where, tc.Name))
		} else if seqs[tc.Sequence] {
			errs = append(errs, fmt.Sprintf("%s: sequence %d is used twice", where, tc.Sequence))
		}
		seqs[tc.Sequence] = true
		if names[tc.Name] {
			errs = append(errs, fmt.Sprintf("%s: test %q is selected twice", where, tc.Name))
		}
		names[tc.Name] = true

		def, ok := cat.Lookup(category, tc.Name)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: test %q is not offered for %q", where, tc.Name, category))
			continue
		}
		if tc.SpecificationSet != "" && !contains(def.SpecificationSets, tc.SpecificationSet) {
			errs = append(errs, fmt.Sprintf("%s: test %q has no specification set %q", where, tc.Name, tc.SpecificationSet))
		}
	}
	return errs
}

// Build validates sub and returns the request it describes. The deadline is
// left zero for the caller to fill from a lead-time projection.
func Build(sub Submission, cat *catalog.Catalog, now time.Time) (*lab.Request, error) {
	if err := Validate(sub, cat); err != nil {
		return nil, err
	}
	req := &lab.Request{
		ID:           NewRequestID(),
		ProductType:  strings.TrimSpace(sub.ProductType),
		ProductClass: strings.TrimSpace(sub.ProductClass),
		TestType:     strings.TrimSpace(sub.TestType),
		SubmittedAt:  now,
	}
	for i, sku := range sub.SKUs {
		model := strings.TrimSpace(sku.ModelName)
		for j, spec := range sku.Samples {
			ordered := append([]TestChoice(nil), spec.Tests...)
			sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].Sequence < ordered[b].Sequence })

			s := lab.Sample{
				ID:           fmt.Sprintf("%s-%d-%d", req.ID, i+1, j+1),
				RequestID:    req.ID,
				ModelName:    model,
				SKU:          fmt.Sprintf("SKU-%d", i+1),
				SampleNumber: j + 1,
				Technician:   technician(spec.Technician),
				Status:       lab.StatusPending,
				TestResults:  make(map[string]lab.Result),
				TestFiles:    make(map[string]lab.Evidence),
			}
			for _, tc := range ordered {
				def, _ := cat.Lookup(req.ProductType, tc.Name)
				if tc.SpecificationSet != "" {
					def.SpecificationSets = preferFirst(def.SpecificationSets, tc.SpecificationSet)
				}
				s.Tests = append(s.Tests, def.Name)
				s.TestConfigs = append(s.TestConfigs, def)
			}
			req.Samples = append(req.Samples, s)
		}
	}
	return req, nil
}

// NewRequestID returns a short request identifier derived from a random UUID.
func NewRequestID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "REQ-" + strings.ToUpper(id[:8])
}

func technician(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return lab.AutoAssign
	}
	return name
}

func preferFirst(sets []string, chosen string) []string {
	out := []string{chosen}
	for _, s := range sets {
		if s != chosen {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
