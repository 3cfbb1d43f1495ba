package campaign

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// presetFile is the YAML shape operators author campaigns in. Durations use
// Go syntax ("48h", "30m").
type presetFile struct {
	Name     string       `yaml:"name"`
	Category string       `yaml:"category"`
	Notes    string       `yaml:"notes"`
	Steps    []presetStep `yaml:"steps"`
}

type presetStep struct {
	ID           string  `yaml:"id"`
	Kind         string  `yaml:"kind"`
	Next         string  `yaml:"next"`
	Instructions string  `yaml:"instructions"`
	Subject      string  `yaml:"subject"`
	Wait         string  `yaml:"wait"`
	WorkingHours bool    `yaml:"working_hours"`
	Rules        []Rule  `yaml:"rules"`
	GoalName     string  `yaml:"goal_name"`
	Outcome      Outcome `yaml:"outcome"`
}

// LoadPreset parses and validates a campaign definition from YAML.
// The returned campaign is a draft; launching it is a separate act.
func LoadPreset(data []byte) (Campaign, error) {
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Campaign{}, fmt.Errorf("parse preset: %w", err)
	}

	c := Campaign{
		ID:       uuid.NewString(),
		Name:     pf.Name,
		Category: pf.Category,
		Notes:    pf.Notes,
		Status:   StatusDraft,
	}
	for _, ps := range pf.Steps {
		st := Step{
			ID:           ps.ID,
			Kind:         StepKind(ps.Kind),
			Next:         ps.Next,
			Instructions: ps.Instructions,
			Subject:      ps.Subject,
			WorkingHours: ps.WorkingHours,
			Rules:        ps.Rules,
			GoalName:     ps.GoalName,
			Outcome:      ps.Outcome,
		}
		if ps.Wait != "" {
			d, err := time.ParseDuration(ps.Wait)
			if err != nil {
				return Campaign{}, fmt.Errorf("step %q: bad wait %q: %w", ps.ID, ps.Wait, err)
			}
			st.Wait = d
		}
		c.Steps = append(c.Steps, st)
	}

	if err := c.Validate(); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

// LoadPresetFile reads a preset from disk.
func LoadPresetFile(path string) (Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Campaign{}, fmt.Errorf("read preset: %w", err)
	}
	return LoadPreset(data)
}
