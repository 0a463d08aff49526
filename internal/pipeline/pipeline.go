// Package pipeline runs one ETL invocation: an ordered list of stages, each
// an ordered list of units. Stages run strictly one after another; units
// inside a stage run sequentially or on a bounded worker pool.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/etlerr"
)

// Unit is the atomic scheduling grain: one entity load, relationship load,
// or graph check, self-contained in its Run closure. Units own no state
// across runs.
type Unit struct {
	Name    string
	Kind    domain.UnitKind
	Timeout time.Duration // 0 means the runner default
	Run     func(ctx context.Context) (domain.UnitStats, error)
}

// Stage groups independent units. Critical is declarative: the first unit
// failure in a critical stage skips the stage's remaining units and fails
// the run before any later stage starts.
type Stage struct {
	Name        string
	Description string
	Mode        domain.ExecutionMode
	Critical    bool
	Units       []Unit
}

type Definition struct {
	PipelineName string
	Stages       []Stage
}

// Validate rejects definitions the runner cannot execute deterministically.
// Called once before the first stage starts; a run never begins against an
// invalid definition.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.PipelineName) == "" {
		return etlerr.NewOrchestration("pipeline definition: empty pipeline name")
	}
	if len(d.Stages) == 0 {
		return etlerr.NewOrchestration("pipeline definition: no stages")
	}
	stageNames := map[string]bool{}
	unitNames := map[string]bool{}
	for _, st := range d.Stages {
		if strings.TrimSpace(st.Name) == "" {
			return etlerr.NewOrchestration("pipeline definition: stage with empty name")
		}
		if stageNames[st.Name] {
			return etlerr.NewOrchestration("pipeline definition: duplicate stage %q", st.Name)
		}
		stageNames[st.Name] = true
		if st.Mode != domain.ExecutionSequential && st.Mode != domain.ExecutionConcurrent {
			return etlerr.NewOrchestration("pipeline definition: stage %q has invalid mode %q", st.Name, st.Mode)
		}
		if len(st.Units) == 0 {
			return etlerr.NewOrchestration("pipeline definition: stage %q has no units", st.Name)
		}
		for _, u := range st.Units {
			if strings.TrimSpace(u.Name) == "" {
				return etlerr.NewOrchestration("pipeline definition: stage %q has a unit with empty name", st.Name)
			}
			if unitNames[u.Name] {
				return etlerr.NewOrchestration("pipeline definition: duplicate unit %q", u.Name)
			}
			unitNames[u.Name] = true
			if u.Run == nil {
				return etlerr.NewOrchestration("pipeline definition: unit %q has no run function", u.Name)
			}
		}
	}
	return nil
}

func (d Definition) unitCount() int {
	n := 0
	for _, st := range d.Stages {
		n += len(st.Units)
	}
	return n
}
