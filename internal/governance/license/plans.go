package license

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"datahub.migas.id/clearinghouse/internal/domain"
)

//go:embed plans.yaml
var builtinPlans []byte

// Plan is a license template: product, seat count, validity and monthly limits.
type Plan struct {
	Name           string           `yaml:"-" json:"name"`
	Product        string           `yaml:"product" json:"product"`
	MaxActivations int              `yaml:"max_activations" json:"max_activations"`
	ValidityDays   int              `yaml:"validity_days" json:"validity_days"`
	Limits         map[string]int64 `yaml:"limits" json:"limits"`
}

// Catalog holds the plans licenses can be issued under.
type Catalog struct {
	plans map[string]Plan
}

type catalogFile struct {
	Plans map[string]Plan `yaml:"plans"`
}

// LoadCatalog reads the built-in plans, then the plans in path (if set).
// A plan in path replaces the built-in plan of the same name.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{plans: map[string]Plan{}}
	if err := c.merge(builtinPlans, "built-in"); err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	if err := c.merge(data, path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) merge(data []byte, source string) error {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s plans: %w", source, err)
	}
	for name, p := range f.Plans {
		if p.MaxActivations < 1 {
			return fmt.Errorf("plan %q (%s): max_activations must be at least 1", name, source)
		}
		if p.ValidityDays < 1 {
			return fmt.Errorf("plan %q (%s): validity_days must be at least 1", name, source)
		}
		for metric, limit := range p.Limits {
			if limit < 0 {
				return fmt.Errorf("plan %q (%s): limit %s must not be negative", name, source, metric)
			}
		}
		p.Name = name
		c.plans[name] = p
	}
	return nil
}

// Plan returns a plan by name.
func (c *Catalog) Plan(name string) (Plan, error) {
	p, ok := c.plans[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", domain.ErrPlanNotFound, name)
	}
	return p, nil
}

// Plans returns every plan sorted by name.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// mergeLimits returns the plan limits with overrides applied on top.
func mergeLimits(plan, overrides map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(plan)+len(overrides))
	for k, v := range plan {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
