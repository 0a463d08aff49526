// Package caregaps builds the validation-stage unit: read-only graph queries
// that surface medication delivery gaps after the loads have run. It
// extracts nothing and loads nothing.
package caregaps

import (
	"context"
	"fmt"

	"github.com/arthurhealth/caregraph-etl/internal/data/graph"
	"github.com/arthurhealth/caregraph-etl/internal/domain"
	"github.com/arthurhealth/caregraph-etl/internal/pipeline"
	"github.com/arthurhealth/caregraph-etl/internal/platform/logger"
)

const UnitName = "care_gaps"

type Deps struct {
	Loader *graph.Loader
	Log    *logger.Logger
}

type gapQuery struct {
	name   string
	cypher string
}

// The four gap patterns the care team acts on. Each returns a single count.
func gapQueries() []gapQuery {
	return []gapQuery{
		{
			name: "medication_non_adherence",
			cypher: `MATCH (:Patient)-[r:PRESCRIBED]->(:Medication)
WHERE r.adherenceScore < 80
RETURN count(r) AS gap_count`,
		},
		{
			name: "expired_prior_auth",
			cypher: `MATCH (:Patient)-[r:PRESCRIBED]->(:Medication)
WHERE r.priorAuthStatus = 'expired'
  AND date(r.priorAuthExpiryDate) < date()
RETURN count(r) AS gap_count`,
		},
		{
			name: "overdue_refills",
			cypher: `MATCH (:Patient)-[r:PRESCRIBED]->(:Medication)
WHERE r.status = 'active'
  AND date(r.nextRefillDueDate) < date()
  AND r.refillsRemaining > 0
RETURN count(r) AS gap_count`,
		},
		{
			name: "high_cost_no_prior_auth",
			cypher: `MATCH (:Patient)-[r:PRESCRIBED]->(m:Medication)
WHERE m.requiresPriorAuth = true
  AND (r.priorAuthStatus IS NULL OR r.priorAuthStatus = 'pending')
  AND r.costPatient > 200
RETURN count(r) AS gap_count`,
		},
	}
}

const verificationQuery = `MATCH (:Patient)-[r:PRESCRIBED]->(:Medication)
RETURN count(r) AS total`

func Unit(d Deps) (pipeline.Unit, error) {
	if d.Loader == nil || d.Log == nil {
		return pipeline.Unit{}, fmt.Errorf("caregaps: missing deps")
	}

	return pipeline.Unit{
		Name: UnitName,
		Kind: domain.UnitKindGraphCheck,
		Run: func(ctx context.Context) (domain.UnitStats, error) {
			report := &domain.QualityReport{
				Categories: map[string]map[string]int{"care_gaps": {}},
			}

			if rows, err := d.Loader.RunRead(ctx, verificationQuery, nil); err != nil {
				return domain.UnitStats{}, err
			} else if len(rows) > 0 {
				if n, ok := rows[0]["total"].(int64); ok {
					report.GraphCount = &n
					report.Total = int(n)
				}
			}

			for _, q := range gapQueries() {
				rows, err := d.Loader.RunRead(ctx, q.cypher, nil)
				if err != nil {
					return domain.UnitStats{Quality: report}, err
				}
				count := 0
				if len(rows) > 0 {
					if n, ok := rows[0]["gap_count"].(int64); ok {
						count = int(n)
					}
				}
				report.Categories["care_gaps"][q.name] = count
				d.Log.Info("care gap detected",
					"gap_type", q.name,
					"count", count,
				)
			}

			return domain.UnitStats{Quality: report}, nil
		},
	}, nil
}
