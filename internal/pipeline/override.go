package pipeline

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
)

// Override re-declares stage order, execution modes, criticality, and unit
// enablement on top of a built-in definition. The override's stage list is
// authoritative: stages it omits do not run.
type Override struct {
	Stages []StageOverride `yaml:"stages"`
}

type StageOverride struct {
	Name     string   `yaml:"name"`
	Mode     string   `yaml:"mode"`
	Critical *bool    `yaml:"critical"`
	Units    []string `yaml:"units"`
}

func LoadOverride(path string) (*Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, etlerr.Orchestration(err, "read pipeline override %s", path)
	}
	var ov Override
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return nil, etlerr.Orchestration(err, "parse pipeline override %s", path)
	}
	if len(ov.Stages) == 0 {
		return nil, etlerr.NewOrchestration("pipeline override %s declares no stages", path)
	}
	return &ov, nil
}

// Apply resolves the override against the built-in definition. Names that do
// not exist in the base definition are rejected outright; a typo must never
// silently drop a loader from the run.
func (d Definition) Apply(ov *Override) (Definition, error) {
	if ov == nil {
		return d, nil
	}

	baseStages := make(map[string]Stage, len(d.Stages))
	for _, st := range d.Stages {
		baseStages[st.Name] = st
	}

	out := Definition{PipelineName: d.PipelineName}
	for _, so := range ov.Stages {
		base, ok := baseStages[so.Name]
		if !ok {
			return Definition{}, etlerr.NewOrchestration("pipeline override: unknown stage %q", so.Name)
		}
		st := Stage{
			Name:        base.Name,
			Description: base.Description,
			Mode:        base.Mode,
			Critical:    base.Critical,
			Units:       base.Units,
		}
		if so.Mode != "" {
			mode := domain.ExecutionMode(so.Mode)
			if mode != domain.ExecutionSequential && mode != domain.ExecutionConcurrent {
				return Definition{}, etlerr.NewOrchestration("pipeline override: stage %q has invalid mode %q", so.Name, so.Mode)
			}
			st.Mode = mode
		}
		if so.Critical != nil {
			st.Critical = *so.Critical
		}
		if len(so.Units) > 0 {
			byName := make(map[string]Unit, len(base.Units))
			for _, u := range base.Units {
				byName[u.Name] = u
			}
			units := make([]Unit, 0, len(so.Units))
			for _, name := range so.Units {
				u, ok := byName[name]
				if !ok {
					return Definition{}, etlerr.NewOrchestration("pipeline override: unknown unit %q in stage %q", name, so.Name)
				}
				units = append(units, u)
			}
			st.Units = units
		}
		out.Stages = append(out.Stages, st)
	}

	if err := out.Validate(); err != nil {
		return Definition{}, err
	}
	return out, nil
}
