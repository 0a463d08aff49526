// Package patients builds the Patient entity-load unit: warehouse extraction,
// policy/narrative embeddings, and the keyed node upsert.
package patients

import (
	"context"
	"fmt"
	"strings"

	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/data/warehouse"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/enrich"
	"github.com/arthurhealth/caregraph-etl/internal/pipeline"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
	"github.com/arthurhealth/caregraph-etl/internal/quality"
)

const UnitName = "patients"

type Deps struct {
	Reader     *warehouse.Reader
	Enricher   *enrich.Enricher
	Loader     *graph.Loader
	Dimensions int
	Log        *logger.Logger
}

func FetchSpec() warehouse.FetchSpec {
	return warehouse.FetchSpec{
		Table: "patients",
		Columns: []string{
			"patient_id", "mrn",
			"first_name", "last_name", "date_of_birth", "gender",
			"phone_number", "email",
			"address_line1", "address_line2", "city", "state", "zip_code",
			"insurance_provider", "insurance_plan_id", "insurance_member_id", "plan_type",
			"policy_text", "clinical_narrative",
			"risk_score", "chronic_conditions_count", "active_medications_count",
			"last_visit_date", "next_appointment_date",
			"primary_care_provider_id", "care_coordinator_id",
			"preferred_language", "communication_preference", "hipaa_consent",
			"last_modified", "created_at",
		},
	}
}

func Mapping() graph.NodeMapping {
	return graph.NodeMapping{
		Label: "Patient",
		Keys: []graph.FieldMap{
			{Source: "patient_id", Target: "id"},
			{Source: "mrn", Target: "mrn"},
		},
		Fields: []graph.FieldMap{
			{Source: "first_name", Target: "firstName"},
			{Source: "last_name", Target: "lastName"},
			{Source: "date_of_birth", Target: "dateOfBirth"},
			{Source: "gender", Target: "gender"},
			{Source: "phone_number", Target: "phoneNumber"},
			{Source: "email", Target: "email"},
			{Source: "address", Target: "address"},
			{Source: "city", Target: "city"},
			{Source: "state", Target: "state"},
			{Source: "zip_code", Target: "zipCode"},
			{Source: "insurance_provider", Target: "insuranceProvider"},
			{Source: "insurance_plan_id", Target: "insurancePlanId"},
			{Source: "insurance_member_id", Target: "insuranceMemberId"},
			{Source: "plan_type", Target: "planType"},
			{Source: "policy_text", Target: "policyText"},
			{Source: "clinical_narrative", Target: "clinicalNarrative"},
			{Source: "risk_score", Target: "riskScore"},
			{Source: "chronic_conditions_count", Target: "chronicConditionsCount"},
			{Source: "active_medications_count", Target: "activeMedicationsCount"},
			{Source: "last_visit_date", Target: "lastVisitDate"},
			{Source: "next_appointment_date", Target: "nextAppointmentDate"},
			{Source: "primary_care_provider_id", Target: "primaryCareProviderId"},
			{Source: "care_coordinator_id", Target: "careCoordinatorId"},
			{Source: "preferred_language", Target: "preferredLanguage"},
			{Source: "communication_preference", Target: "communicationPreference"},
			{Source: "hipaa_consent", Target: "hipaaConsent"},
			{Source: "last_modified", Target: "lastModified"},
			{Source: "created_at", Target: "createdAt"},
		},
		EmbedProps: []string{"policyTextEmbedding", "clinicalNarrativeEmbedding"},
	}
}

func embedFields() []enrich.Field {
	return []enrich.Field{
		{SourceColumn: "policy_text", TargetProp: "policyTextEmbedding"},
		{SourceColumn: "clinical_narrative", TargetProp: "clinicalNarrativeEmbedding"},
	}
}

func qualitySpec(dim int) quality.Spec {
	return quality.Spec{
		RequiredFields: []string{"policy_text", "insurance_provider", "risk_score"},
		EmbedProps:     []string{"policyTextEmbedding", "clinicalNarrativeEmbedding"},
		Dimensions:     dim,
		ScoreFields:    []string{"risk_score"},
	}
}

// joinAddress collapses the discrete address columns into the single address
// property, skipping blank parts.
func joinAddress(row domain.Row) string {
	parts := make([]string, 0, 5)
	for _, col := range []string{"address_line1", "address_line2", "city", "state", "zip_code"} {
		if v := strings.TrimSpace(domain.StringValue(row[col])); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func Unit(d Deps, sel warehouse.Selection) (pipeline.Unit, error) {
	if d.Reader == nil || d.Enricher == nil || d.Loader == nil || d.Log == nil {
		return pipeline.Unit{}, fmt.Errorf("patients: missing deps")
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
			for _, row := range rows {
				row["address"] = joinAddress(row)
			}

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
				d.Log.Warn("patient graph verification read failed (continuing)", "error", err)
			} else {
				report.GraphCount = &n
			}
			stats.Quality = report
			return stats, nil
		},
	}, nil
}
