package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_Loads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	cats := c.Categories()
	if len(cats) != 2 || cats[0] != "Refrigerator" || cats[1] != "Washing Machine" {
		t.Errorf("Categories = %v", cats)
	}

	tests := c.Tests("refrigerator")
	if len(tests) != 5 {
		t.Fatalf("len(Tests) = %d, want 5", len(tests))
	}
	if tests[0].Name != "Visual Inspection" || tests[0].RequiresMachine() {
		t.Errorf("first test = %+v, want bench Visual Inspection", tests[0])
	}
}

func TestTests_ReturnsCopies(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	first := c.Tests("Refrigerator")
	first[1].Machines[0] = "changed"

	again, _ := c.Lookup("Refrigerator", "Thermal Cycling")
	if again.Machines[0] != "Thermal Chamber" {
		t.Errorf("catalog mutated through returned slice: %v", again.Machines)
	}
}

func TestLookup(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	def, ok := c.Lookup("Washing Machine", "Electrical Safety")
	if !ok {
		t.Fatal("Electrical Safety not found")
	}
	if len(def.Machines) != 2 {
		t.Errorf("Machines = %v, want two types", def.Machines)
	}
	if _, ok := c.Lookup("Washing Machine", "Door Endurance"); ok {
		t.Error("Door Endurance should not be offered for washing machines")
	}
	if _, ok := c.Lookup("Toaster", "Vibration"); ok {
		t.Error("unknown category should not resolve")
	}
}

func TestParse_RejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "categories: []", "at least one category"},
		{"man hours exceed cycle", `
categories:
  - name: X
    tests:
      - {name: T, cycle_time: 2, man_hours: 3, technicians: 1}
`, "man hours"},
		{"no technicians", `
categories:
  - name: X
    tests:
      - {name: T, cycle_time: 2, man_hours: 1, technicians: 0}
`, "technician"},
		{"duplicate test", `
categories:
  - name: X
    tests:
      - {name: T, cycle_time: 2, man_hours: 1, technicians: 1}
      - {name: T, cycle_time: 2, man_hours: 1, technicians: 1}
`, "defined twice"},
		{"duplicate category", `
categories:
  - name: X
  - name: x
`, "defined twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `
categories:
  - name: Oven
    tests:
      - name: Bake
        cycle_time: 2
        man_hours: 1
        machines: [oven]
        technicians: 1
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.MachineTypes(); len(got) != 1 || got[0] != "oven" {
		t.Errorf("MachineTypes = %v, want [oven]", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "catalog: read") {
		t.Errorf("error = %v, want read error", err)
	}
}
