// Package medications builds the Medication entity-load unit.
package medications

import (
	"context"
	"fmt"

	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/data/warehouse"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/enrich"
	"github.com/arthurhealth/caregraph-etl/internal/pipeline"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
	"github.com/arthurhealth/caregraph-etl/internal/quality"
)

const UnitName = "medications"

type Deps struct {
	Reader     *warehouse.Reader
	Enricher   *enrich.Enricher
	Loader     *graph.Loader
	Dimensions int
	Log        *logger.Logger
}

func FetchSpec() warehouse.FetchSpec {
	return warehouse.FetchSpec{
		Table: "medications",
		Columns: []string{
			"medication_id", "rxnorm_code",
			"generic_name", "brand_name", "drug_class", "dosage_form", "strength",
			"instructions", "side_effects", "contraindications", "interactions",
			"requires_prior_auth", "formulary_tier",
			"estimated_cost_30day", "estimated_cost_90day",
			"therapeutic_category", "controlled_substance_schedule",
			"pregnancy_category", "fda_approved_date",
			"last_modified", "created_at",
		},
	}
}

func Mapping() graph.NodeMapping {
	return graph.NodeMapping{
		Label: "Medication",
		Keys: []graph.FieldMap{
			{Source: "medication_id", Target: "id"},
			{Source: "rxnorm_code", Target: "rxNormCode"},
		},
		Fields: []graph.FieldMap{
			{Source: "generic_name", Target: "genericName"},
			{Source: "brand_name", Target: "brandName"},
			{Source: "drug_class", Target: "drugClass"},
			{Source: "dosage_form", Target: "dosageForm"},
			{Source: "strength", Target: "strength"},
			{Source: "instructions", Target: "instructions"},
			{Source: "side_effects", Target: "sideEffects"},
			{Source: "contraindications", Target: "contraindications"},
			{Source: "interactions", Target: "interactions"},
			{Source: "requires_prior_auth", Target: "requiresPriorAuth"},
			{Source: "formulary_tier", Target: "formularyTier"},
			{Source: "estimated_cost_30day", Target: "estimatedCost30Day"},
			{Source: "estimated_cost_90day", Target: "estimatedCost90Day"},
			{Source: "therapeutic_category", Target: "therapeuticCategory"},
			{Source: "controlled_substance_schedule", Target: "controlledSubstanceSchedule"},
			{Source: "pregnancy_category", Target: "pregnancyCategory"},
			{Source: "fda_approved_date", Target: "fdaApprovedDate"},
			{Source: "last_modified", Target: "lastModified"},
			{Source: "created_at", Target: "createdAt"},
		},
		EmbedProps: []string{"instructionsEmbedding", "sideEffectsEmbedding"},
	}
}

func embedFields() []enrich.Field {
	return []enrich.Field{
		{SourceColumn: "instructions", TargetProp: "instructionsEmbedding"},
		{SourceColumn: "side_effects", TargetProp: "sideEffectsEmbedding"},
	}
}

func qualitySpec(dim int) quality.Spec {
	return quality.Spec{
		RequiredFields: []string{"instructions"},
		EmbedProps:     []string{"instructionsEmbedding", "sideEffectsEmbedding"},
		Dimensions:     dim,
		ScoreFields:    []string{"estimated_cost_30day"},
		CategoryFields: []string{"requires_prior_auth"},
	}
}

func Unit(d Deps, sel warehouse.Selection) (pipeline.Unit, error) {
	if d.Reader == nil || d.Enricher == nil || d.Loader == nil || d.Log == nil {
		return pipeline.Unit{}, fmt.Errorf("medications: missing deps")
	}
	mapping := Mapping()
	if err := mapping.Validate(); err != nil {
		return pipeline.Unit{}, err
	}

	return pipeline.Unit{
		Name: UnitName,
		Kind: domain.UnitKindEntityLoad,
		Run: func(ctx context.Context) (domain.UnitStats, error) {
			var stats domain.UnitStats

			rows, err := d.Reader.Fetch(ctx, FetchSpec(), sel)
			if err != nil {
				return stats, err
			}
			stats.RecordsExtracted = len(rows)

			es := d.Enricher.EnrichRows(ctx, rows, embedFields())
			stats.EmbeddingsGenerated = es.TextsEmbedded
			stats.EmbeddingFallbacks = es.Fallbacks

			res, err := d.Loader.UpsertNodes(ctx, mapping, rows)
			stats.RecordsLoaded = res.Written
			stats.SkippedNullKey = res.SkippedNullKey
			if err != nil {
				return stats, err
			}

			report := quality.Assess(rows, qualitySpec(d.Dimensions))
			if n, err := d.Loader.CountNodes(ctx, mapping.Label); err != nil {
				d.Log.Warn("medication graph verification read failed (continuing)", "error", err)
			} else {
				report.GraphCount = &n
			}
			stats.Quality = report
			return stats, nil
		},
	}, nil
}
