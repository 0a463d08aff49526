package graph

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
)

// FieldMap renames one warehouse column to one graph property.
type FieldMap struct {
	Source string
	Target string
}

// NodeMapping declares how rows of one table become nodes of one label.
// Keys identify the node for MERGE; a row blank in any key column is
// excluded from the batch. EmbedProps name row entries added by enrichment
// (domain.Embedding values) that load as vector properties.
type NodeMapping struct {
	Label      string
	Keys       []FieldMap
	Fields     []FieldMap
	EmbedProps []string
}

// RelMapping declares how rows of one table become relationships. Endpoints
// resolve by matching SourceKey/TargetKey row values against the endpoint
// labels' key property; rows whose endpoints do not exist fail individually
// without aborting the batch.
type RelMapping struct {
	Type        string
	SourceLabel string
	SourceProp  string
	SourceKey   string
	TargetLabel string
	TargetProp  string
	TargetKey   string
	Fields      []FieldMap
}

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func validIdent(s string) bool { return identRe.MatchString(s) }

// Validate runs at unit construction, before any extraction. Labels, types
// and property names end up inside Cypher text, so they must be plain
// identifiers.
func (m NodeMapping) Validate() error {
	if !validIdent(m.Label) {
		return errors.Newf("node mapping: invalid label %q", m.Label)
	}
	if len(m.Keys) == 0 {
		return errors.Newf("node mapping %s: at least one key field required", m.Label)
	}
	seenSource := map[string]bool{}
	seenTarget := map[string]bool{}
	for _, f := range append(append([]FieldMap{}, m.Keys...), m.Fields...) {
		if strings.TrimSpace(f.Source) == "" || !validIdent(f.Target) {
			return errors.Newf("node mapping %s: bad field map %q -> %q", m.Label, f.Source, f.Target)
		}
		if seenSource[f.Source] {
			return errors.Newf("node mapping %s: duplicate source column %q", m.Label, f.Source)
		}
		if seenTarget[f.Target] {
			return errors.Newf("node mapping %s: duplicate target property %q", m.Label, f.Target)
		}
		seenSource[f.Source] = true
		seenTarget[f.Target] = true
	}
	for _, p := range m.EmbedProps {
		if !validIdent(p) {
			return errors.Newf("node mapping %s: invalid embedding property %q", m.Label, p)
		}
		if seenTarget[p] {
			return errors.Newf("node mapping %s: embedding property %q collides with a mapped field", m.Label, p)
		}
		seenTarget[p] = true
	}
	return nil
}

func (m RelMapping) Validate() error {
	if !validIdent(m.Type) {
		return errors.Newf("rel mapping: invalid type %q", m.Type)
	}
	if !validIdent(m.SourceLabel) || !validIdent(m.TargetLabel) {
		return errors.Newf("rel mapping %s: invalid endpoint labels %q / %q", m.Type, m.SourceLabel, m.TargetLabel)
	}
	if !validIdent(m.SourceProp) || !validIdent(m.TargetProp) {
		return errors.Newf("rel mapping %s: invalid endpoint key properties %q / %q", m.Type, m.SourceProp, m.TargetProp)
	}
	if strings.TrimSpace(m.SourceKey) == "" || strings.TrimSpace(m.TargetKey) == "" {
		return errors.Newf("rel mapping %s: source and target key columns required", m.Type)
	}
	seenSource := map[string]bool{}
	seenTarget := map[string]bool{}
	for _, f := range m.Fields {
		if strings.TrimSpace(f.Source) == "" || !validIdent(f.Target) {
			return errors.Newf("rel mapping %s: bad field map %q -> %q", m.Type, f.Source, f.Target)
		}
		if seenSource[f.Source] {
			return errors.Newf("rel mapping %s: duplicate source column %q", m.Type, f.Source)
		}
		if seenTarget[f.Target] {
			return errors.Newf("rel mapping %s: duplicate target property %q", m.Type, f.Target)
		}
		seenSource[f.Source] = true
		seenTarget[f.Target] = true
	}
	return nil
}

// buildNodeRows turns warehouse rows into flat Cypher parameter rows. Rows
// blank in any key column are dropped and counted, never sent.
func buildNodeRows(m NodeMapping, rows []domain.Row, source string, extractedAt time.Time) ([]map[string]any, int) {
	stamp := extractedAt.UTC().Format(time.RFC3339)
	out := make([]map[string]any, 0, len(rows))
	skipped := 0

rowLoop:
	for _, row := range rows {
		for _, k := range m.Keys {
			if domain.Blank(row[k.Source]) {
				skipped++
				continue rowLoop
			}
		}
		props := make(map[string]any, len(m.Keys)+len(m.Fields)+len(m.EmbedProps)+2)
		for _, k := range m.Keys {
			props[k.Target] = graphValue(row[k.Source])
		}
		for _, f := range m.Fields {
			props[f.Target] = graphValue(row[f.Source])
		}
		for _, p := range m.EmbedProps {
			if emb, ok := row[p].(domain.Embedding); ok {
				props[p] = vectorValue(emb.Vector)
			}
		}
		props["extractedAt"] = stamp
		props["extractionSource"] = source
		out = append(out, props)
	}
	return out, skipped
}

// buildRelRows nests the properties under "props" so endpoint keys stay out
// of the relationship property set.
func buildRelRows(m RelMapping, rows []domain.Row, source string, extractedAt time.Time) ([]map[string]any, int) {
	stamp := extractedAt.UTC().Format(time.RFC3339)
	out := make([]map[string]any, 0, len(rows))
	skipped := 0

	for _, row := range rows {
		if domain.Blank(row[m.SourceKey]) || domain.Blank(row[m.TargetKey]) {
			skipped++
			continue
		}
		props := make(map[string]any, len(m.Fields)+2)
		for _, f := range m.Fields {
			props[f.Target] = graphValue(row[f.Source])
		}
		props["extractedAt"] = stamp
		props["extractionSource"] = source
		out = append(out, map[string]any{
			"sourceKey": graphValue(row[m.SourceKey]),
			"targetKey": graphValue(row[m.TargetKey]),
			"props":     props,
		})
	}
	return out, skipped
}

func nodeUpsertQuery(m NodeMapping) string {
	keyParts := make([]string, len(m.Keys))
	for i, k := range m.Keys {
		keyParts[i] = fmt.Sprintf("%s: row.%s", k.Target, k.Target)
	}
	return fmt.Sprintf(`
UNWIND $rows AS row
MERGE (n:%s {%s})
SET n += row
RETURN count(n) AS written
`, m.Label, strings.Join(keyParts, ", "))
}

func relUpsertQuery(m RelMapping) string {
	return fmt.Sprintf(`
UNWIND $rows AS row
MATCH (a:%s {%s: row.sourceKey})
MATCH (b:%s {%s: row.targetKey})
MERGE (a)-[r:%s]->(b)
SET r += row.props
RETURN count(r) AS written
`, m.SourceLabel, m.SourceProp, m.TargetLabel, m.TargetProp, m.Type)
}

// graphValue converts driver-returned row values into types the Neo4j
// driver serializes: byte slices become strings, timestamps RFC3339 strings,
// nil stays nil so `SET += ` clears stale properties on re-run.
func graphValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func vectorValue(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, f := range vec {
		out[i] = float64(f)
	}
	return out
}
