package domain

import (
	"strings"
	"time"
)

// Row is one warehouse record keyed by source column name. Enrichment adds
// Embedding values under graph property names; everything else stays as the
// driver returned it.
type Row map[string]any

// Embedding pairs a fixed-length vector with an explicit fallback marker so
// downstream consumers can tell a real vector from a zero substitute without
// inspecting its values.
type Embedding struct {
	Vector   []float32 `json:"vector"`
	Fallback bool      `json:"fallback"`
}

func ZeroEmbedding(dim int) Embedding {
	return Embedding{Vector: make([]float32, dim), Fallback: true}
}

// StringValue coerces a row value to a string, empty for nil or non-text.
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

// Blank reports whether a row value is nil, non-text, or whitespace-only.
func Blank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	if b, ok := v.([]byte); ok {
		return strings.TrimSpace(string(b)) == ""
	}
	return false
}

// Missing reports whether a required field is absent for quality purposes:
// nil, or text that is blank. Non-text values count as present.
func Missing(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return strings.TrimSpace(string(t)) == ""
	default:
		return false
	}
}

// Numeric coerces the numeric types Postgres and sqlite drivers hand back.
func Numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

// TimeValue coerces timestamp columns; ok is false for NULL or non-time.
func TimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}
