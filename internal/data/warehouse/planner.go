package warehouse

import (
	"time"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
)

// Selection is the predicate one run extracts with. It is a comparable
// value: planning twice from the same inputs yields identical selections, so
// a re-run over an unchanged watermark re-covers exactly the same window.
type Selection struct {
	EffectiveMode domain.RunMode
	Since         time.Time
}

// Clause renders the selection as a WHERE fragment with its bind args. Full
// selections render empty. The created_at leg catches rows inserted with a
// NULL last_modified.
func (s Selection) Clause() (string, []any) {
	if s.EffectiveMode != domain.RunModeIncremental {
		return "", nil
	}
	return "last_modified > ? OR created_at > ?", []any{s.Since, s.Since}
}

// Plan decides what a run extracts. Incremental planning without a stored
// watermark falls back to a full extraction; a keyed upsert target makes the
// wider window convergent, while a guessed window could silently drop rows.
func Plan(mode domain.RunMode, lastRun *time.Time) Selection {
	if mode == domain.RunModeIncremental && lastRun != nil && !lastRun.IsZero() {
		return Selection{EffectiveMode: domain.RunModeIncremental, Since: lastRun.UTC()}
	}
	return Selection{EffectiveMode: domain.RunModeFull}
}
