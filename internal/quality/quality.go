// Package quality computes post-load aggregate statistics over a batch. It
// is purely observational: nothing here blocks or mutates a load.
package quality

import (
	"github.com/arthurhealth/caregraph-etl/internal/domain"
)

// Threshold counts rows whose numeric field sits below Bound.
type Threshold struct {
	Field string
	Bound float64
}

// Spec declares what one unit's report measures.
type Spec struct {
	RequiredFields []string
	EmbedProps     []string
	Dimensions     int
	ScoreFields    []string
	Thresholds     []Threshold
	CategoryFields []string
}

// Assess computes the report for one extracted-and-enriched batch. Embedding
// validity is judged both ways: by recomputing vector length against the
// configured dimension and by the explicit fallback flags the enrichment
// stage carries.
func Assess(rows []domain.Row, spec Spec) *domain.QualityReport {
	report := &domain.QualityReport{Total: len(rows)}

	if len(spec.RequiredFields) > 0 {
		report.MissingByField = make(map[string]int, len(spec.RequiredFields))
		for _, f := range spec.RequiredFields {
			report.MissingByField[f] = 0
		}
	}
	if len(spec.Thresholds) > 0 {
		report.BelowThreshold = make(map[string]int, len(spec.Thresholds))
	}
	if len(spec.CategoryFields) > 0 {
		report.Categories = make(map[string]map[string]int, len(spec.CategoryFields))
	}

	scores := make(map[string]*domain.ScoreStats, len(spec.ScoreFields))

	for _, row := range rows {
		for _, f := range spec.RequiredFields {
			if domain.Missing(row[f]) {
				report.MissingByField[f]++
			}
		}

		for _, p := range spec.EmbedProps {
			emb, ok := row[p].(domain.Embedding)
			if !ok || len(emb.Vector) != spec.Dimensions {
				report.InvalidEmbeddings++
				continue
			}
			if emb.Fallback {
				report.FallbackEmbeddings++
			}
		}

		for _, f := range spec.ScoreFields {
			v, ok := domain.Numeric(row[f])
			if !ok {
				continue
			}
			s := scores[f]
			if s == nil {
				s = &domain.ScoreStats{Min: v, Max: v}
				scores[f] = s
			}
			s.Count++
			s.Avg += v
			if v < s.Min {
				s.Min = v
			}
			if v > s.Max {
				s.Max = v
			}
		}

		for _, th := range spec.Thresholds {
			if v, ok := domain.Numeric(row[th.Field]); ok && v < th.Bound {
				report.BelowThreshold[th.Field]++
			}
		}

		for _, f := range spec.CategoryFields {
			val := domain.StringValue(row[f])
			if val == "" {
				if b, ok := row[f].(bool); ok {
					if b {
						val = "true"
					} else {
						val = "false"
					}
				} else {
					val = "(blank)"
				}
			}
			if report.Categories[f] == nil {
				report.Categories[f] = make(map[string]int)
			}
			report.Categories[f][val]++
		}
	}

	if len(scores) > 0 {
		report.Scores = make(map[string]domain.ScoreStats, len(scores))
		for f, s := range scores {
			if s.Count > 0 {
				s.Avg /= float64(s.Count)
			}
			report.Scores[f] = *s
		}
	}

	return report
}
