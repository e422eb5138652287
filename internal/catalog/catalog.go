// Package catalog loads the per-category test definitions offered at intake.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
)

//go:embed default.yaml
var defaultYAML []byte

// Category is an ordered list of test definitions for one product type.
type Category struct {
	Name  string               `yaml:"name"`
	Tests []lab.TestDefinition `yaml:"tests"`
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// Catalog holds validated, immutable test definitions keyed by category.
type Catalog struct {
	categories []Category
	index      map[string]int
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog YAML file. An empty path selects the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	c := &Catalog{categories: f.Categories, index: make(map[string]int, len(f.Categories))}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	var errs []string
	if len(c.categories) == 0 {
		errs = append(errs, "at least one category is required")
	}
	for i, cat := range c.categories {
		key := categoryKey(cat.Name)
		if key == "" {
			errs = append(errs, fmt.Sprintf("categories[%d].name is required", i))
			continue
		}
		if _, dup := c.index[key]; dup {
			errs = append(errs, fmt.Sprintf("category %q is defined twice", cat.Name))
			continue
		}
		c.index[key] = i
		seen := make(map[string]bool, len(cat.Tests))
		for _, def := range cat.Tests {
			if err := def.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", cat.Name, err))
			}
			if seen[def.Name] {
				errs = append(errs, fmt.Sprintf("%s: test %q is defined twice", cat.Name, def.Name))
			}
			seen[def.Name] = true
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Categories returns the category names in file order.
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.Name
	}
	return out
}

// Tests returns copies of the definitions of a category, in catalog order.
func (c *Catalog) Tests(category string) []lab.TestDefinition {
	i, ok := c.index[categoryKey(category)]
	if !ok {
		return nil
	}
	out := make([]lab.TestDefinition, len(c.categories[i].Tests))
	for j, def := range c.categories[i].Tests {
		out[j] = def.Clone()
	}
	return out
}

// Lookup returns a copy of the named test in category.
func (c *Catalog) Lookup(category, name string) (lab.TestDefinition, bool) {
	i, ok := c.index[categoryKey(category)]
	if !ok {
		return lab.TestDefinition{}, false
	}
	for _, def := range c.categories[i].Tests {
		if def.Name == name {
			return def.Clone(), true
		}
	}
	return lab.TestDefinition{}, false
}

// MachineTypes returns every distinct machine type referenced by the catalog.
func (c *Catalog) MachineTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, cat := range c.categories {
		for _, def := range cat.Tests {
			for _, m := range def.Machines {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
	}
	return out
}

func categoryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
