package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bulknotif/internal/domain"
)

// TriggerDef binds a cron expression to a campaign kind and audience.
type TriggerDef struct {
	Name     string          `yaml:"name"`
	Spec     string          `yaml:"spec"`
	Kind     domain.Kind     `yaml:"kind"`
	Audience domain.Audience `yaml:"audience"`
	Title    string          `yaml:"title"`
	Disabled bool            `yaml:"disabled"`
}

type triggersFile struct {
	Triggers []TriggerDef `yaml:"triggers"`
}

// DefaultTriggers mirrors the classic cadence: weekly on Monday morning, monthly
// on the 1st, yearly on New Year. The test trigger is defined but disabled.
func DefaultTriggers() []TriggerDef {
	all := domain.Audience{Target: domain.TargetAll}
	return []TriggerDef{
		{Name: "weekly", Spec: "0 9 * * MON", Kind: domain.KindWeekly, Audience: all},
		{Name: "monthly", Spec: "0 9 1 * *", Kind: domain.KindMonthly, Audience: all},
		{Name: "yearly", Spec: "0 0 1 1 *", Kind: domain.KindYearly, Audience: all},
		{Name: "test", Spec: "* * * * *", Kind: domain.KindTest, Audience: all, Disabled: true},
	}
}

// LoadTriggers reads trigger definitions from path, or returns the defaults when
// path is empty. Disabled entries are dropped.
func LoadTriggers(path string) ([]TriggerDef, error) {
	defs := DefaultTriggers()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read triggers file: %w", err)
		}
		var f triggersFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse triggers file: %w", err)
		}
		defs = f.Triggers
	}
	return validateTriggers(defs)
}

func validateTriggers(defs []TriggerDef) ([]TriggerDef, error) {
	seen := make(map[string]struct{}, len(defs))
	out := make([]TriggerDef, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" || d.Spec == "" {
			return nil, fmt.Errorf("trigger %q: name and spec are required", d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("trigger %q: duplicate name", d.Name)
		}
		seen[d.Name] = struct{}{}
		if !d.Kind.CampaignKind() || d.Kind == domain.KindCustom {
			return nil, fmt.Errorf("trigger %q: %w: %s", d.Name, domain.ErrInvalidKind, d.Kind)
		}
		d.Audience = d.Audience.Normalize()
		if err := d.Audience.Validate(); err != nil {
			return nil, fmt.Errorf("trigger %q: %w", d.Name, err)
		}
		if d.Disabled {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
