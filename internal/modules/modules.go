// Package modules assembles the built-in pipeline definition from the unit
// builders. Stage layout mirrors the source system: entities first and
// critical, relationships second, validation last.
package modules

import (
	"fmt"

	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/data/warehouse"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/enrich"
	"github.com/arthurhealth/caregraph-etl/internal/modules/caregaps"
	"github.com/arthurhealth/caregraph-etl/internal/modules/medications"
	"github.com/arthurhealth/caregraph-etl/internal/modules/patients"
	"github.com/arthurhealth/caregraph-etl/internal/modules/prescriptions"
	"github.com/arthurhealth/caregraph-etl/internal/pipeline"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

type Deps struct {
	PipelineName string
	Reader       *warehouse.Reader
	Enricher     *enrich.Enricher
	Loader       *graph.Loader
	Dimensions   int
	Log          *logger.Logger
}

// Definition builds the full pipeline for one run. The selection is computed
// per run from the watermark, so units are rebuilt each invocation.
func Definition(d Deps, sel warehouse.Selection) (pipeline.Definition, error) {
	if d.PipelineName == "" {
		return pipeline.Definition{}, fmt.Errorf("modules: pipeline name required")
	}

	patientsUnit, err := patients.Unit(patients.Deps{
		Reader: d.Reader, Enricher: d.Enricher, Loader: d.Loader,
		Dimensions: d.Dimensions, Log: d.Log,
	}, sel)
	if err != nil {
		return pipeline.Definition{}, err
	}

	medicationsUnit, err := medications.Unit(medications.Deps{
		Reader: d.Reader, Enricher: d.Enricher, Loader: d.Loader,
		Dimensions: d.Dimensions, Log: d.Log,
	}, sel)
	if err != nil {
		return pipeline.Definition{}, err
	}

	prescriptionsUnit, err := prescriptions.Unit(prescriptions.Deps{
		Reader: d.Reader, Loader: d.Loader, Log: d.Log,
	}, sel)
	if err != nil {
		return pipeline.Definition{}, err
	}

	careGapsUnit, err := caregaps.Unit(caregaps.Deps{
		Loader: d.Loader, Log: d.Log,
	})
	if err != nil {
		return pipeline.Definition{}, err
	}

	def := pipeline.Definition{
		PipelineName: d.PipelineName,
		Stages: []pipeline.Stage{
			{
				Name:        "stage_1_entities",
				Description: "load Patient and Medication nodes",
				Mode:        domain.ExecutionConcurrent,
				Critical:    true,
				Units:       []pipeline.Unit{patientsUnit, medicationsUnit},
			},
			{
				Name:        "stage_2_relationships",
				Description: "load PRESCRIBED relationships",
				Mode:        domain.ExecutionConcurrent,
				Units:       []pipeline.Unit{prescriptionsUnit},
			},
			{
				Name:        "stage_3_validation",
				Description: "care gap analysis over the loaded graph",
				Mode:        domain.ExecutionSequential,
				Units:       []pipeline.Unit{careGapsUnit},
			},
		},
	}
	if err := def.Validate(); err != nil {
		return pipeline.Definition{}, err
	}
	return def, nil
}

// NodeMappings lists every node mapping the pipeline writes, for graph
// schema initialization.
func NodeMappings() []graph.NodeMapping {
	return []graph.NodeMapping{
		patients.Mapping(),
		medications.Mapping(),
	}
}

// FetchSpecs names the warehouse extractions per unit, for dry runs.
func FetchSpecs() map[string]warehouse.FetchSpec {
	return map[string]warehouse.FetchSpec{
		patients.UnitName:      patients.FetchSpec(),
		medications.UnitName:   medications.FetchSpec(),
		prescriptions.UnitName: prescriptions.FetchSpec(),
	}
}
