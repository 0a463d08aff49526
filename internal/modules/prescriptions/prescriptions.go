// Package prescriptions builds the PRESCRIBED relationship-load unit between
// Patient and Medication nodes.
package prescriptions

import (
	"context"
	"fmt"

	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/data/warehouse"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/pipeline"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
	"github.com/arthurhealth/caregraph-etl/internal/quality"
)

const UnitName = "prescriptions"

type Deps struct {
	Reader *warehouse.Reader
	Loader *graph.Loader
	Log    *logger.Logger
}

func FetchSpec() warehouse.FetchSpec {
	return warehouse.FetchSpec{
		Table: "prescriptions",
		Columns: []string{
			"prescription_id", "patient_id", "medication_id",
			"prescribing_provider_id", "prescribed_date", "start_date", "end_date",
			"dosage", "frequency", "duration_days",
			"refills_allowed", "refills_remaining", "last_refill_date", "next_refill_due_date",
			"pharmacy_id",
			"adherence_score", "missed_doses_30days", "days_supply", "quantity",
			"prior_auth_status", "prior_auth_expiry_date", "denial_reason",
			"cost_patient", "cost_insurance",
			"status", "discontinuation_reason", "prescribing_reason",
			"last_modified", "created_at",
		},
	}
}

func Mapping() graph.RelMapping {
	return graph.RelMapping{
		Type:        "PRESCRIBED",
		SourceLabel: "Patient", SourceProp: "id", SourceKey: "patient_id",
		TargetLabel: "Medication", TargetProp: "id", TargetKey: "medication_id",
		Fields: []graph.FieldMap{
			{Source: "prescription_id", Target: "prescriptionId"},
			{Source: "prescribing_provider_id", Target: "prescribingProviderId"},
			{Source: "prescribed_date", Target: "prescribedDate"},
			{Source: "start_date", Target: "startDate"},
			{Source: "end_date", Target: "endDate"},
			{Source: "dosage", Target: "dosage"},
			{Source: "frequency", Target: "frequency"},
			{Source: "duration_days", Target: "durationDays"},
			{Source: "refills_allowed", Target: "refillsAllowed"},
			{Source: "refills_remaining", Target: "refillsRemaining"},
			{Source: "last_refill_date", Target: "lastRefillDate"},
			{Source: "next_refill_due_date", Target: "nextRefillDueDate"},
			{Source: "pharmacy_id", Target: "pharmacyId"},
			{Source: "adherence_score", Target: "adherenceScore"},
			{Source: "missed_doses_30days", Target: "missedDoses30Days"},
			{Source: "days_supply", Target: "daysSupply"},
			{Source: "quantity", Target: "quantity"},
			{Source: "prior_auth_status", Target: "priorAuthStatus"},
			{Source: "prior_auth_expiry_date", Target: "priorAuthExpiryDate"},
			{Source: "denial_reason", Target: "denialReason"},
			{Source: "cost_patient", Target: "costPatient"},
			{Source: "cost_insurance", Target: "costInsurance"},
			{Source: "status", Target: "status"},
			{Source: "discontinuation_reason", Target: "discontinuationReason"},
			{Source: "prescribing_reason", Target: "prescribingReason"},
			{Source: "last_modified", Target: "lastModified"},
		},
	}
}

func qualitySpec() quality.Spec {
	return quality.Spec{
		ScoreFields:    []string{"adherence_score", "cost_patient", "cost_insurance"},
		Thresholds:     []quality.Threshold{{Field: "adherence_score", Bound: 80}},
		CategoryFields: []string{"status", "prior_auth_status"},
	}
}

func Unit(d Deps, sel warehouse.Selection) (pipeline.Unit, error) {
	if d.Reader == nil || d.Loader == nil || d.Log == nil {
		return pipeline.Unit{}, fmt.Errorf("prescriptions: missing deps")
	}
	mapping := Mapping()
	if err := mapping.Validate(); err != nil {
		return pipeline.Unit{}, err
	}

	return pipeline.Unit{
		Name: UnitName,
		Kind: domain.UnitKindRelationshipLoad,
		Run: func(ctx context.Context) (domain.UnitStats, error) {
			var stats domain.UnitStats

			rows, err := d.Reader.Fetch(ctx, FetchSpec(), sel)
			if err != nil {
				return stats, err
			}
			stats.RecordsExtracted = len(rows)

			res, err := d.Loader.UpsertRelationships(ctx, mapping, rows)
			stats.RecordsLoaded = res.Written
			stats.SkippedNullKey = res.SkippedNullKey
			if err != nil {
				return stats, err
			}

			stats.Quality = quality.Assess(rows, qualitySpec())
			return stats, nil
		},
	}, nil
}
