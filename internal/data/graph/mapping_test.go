package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/arthurhealth/caregraph-etl/internal/domain"
)

func patientMapping() NodeMapping {
	return NodeMapping{
		Label: "Patient",
		Keys: []FieldMap{
			{Source: "patient_id", Target: "id"},
			{Source: "mrn", Target: "mrn"},
		},
		Fields: []FieldMap{
			{Source: "first_name", Target: "firstName"},
			{Source: "risk_score", Target: "riskScore"},
			{Source: "last_modified", Target: "lastModified"},
		},
		EmbedProps: []string{"policyTextEmbedding"},
	}
}

func TestNodeMappingValidate(t *testing.T) {
	if err := patientMapping().Validate(); err != nil {
		t.Fatalf("valid mapping rejected: %v", err)
	}

	bad := []NodeMapping{
		{Label: "Has Space", Keys: []FieldMap{{Source: "a", Target: "a"}}},
		{Label: "Patient"}, // no keys
		{Label: "Patient", Keys: []FieldMap{{Source: "a", Target: "a"}, {Source: "b", Target: "a"}}},   // dup target
		{Label: "Patient", Keys: []FieldMap{{Source: "a", Target: "a"}}, EmbedProps: []string{"a"}},    // embed collides
		{Label: "Patient", Keys: []FieldMap{{Source: "a", Target: "bad-name"}}},                        // invalid ident
		{Label: "Patient", Keys: []FieldMap{{Source: "a", Target: "a"}}, EmbedProps: []string{"x y"}},  // invalid embed prop
		{Label: "Patient", Keys: []FieldMap{{Source: "a", Target: "a"}, {Source: "a", Target: "a2"}}},  // dup source
	}
	for i, m := range bad {
		if err := m.Validate(); err == nil {
			t.Errorf("bad mapping %d accepted", i)
		}
	}
}

func TestRelMappingValidate(t *testing.T) {
	m := RelMapping{
		Type:        "PRESCRIBED",
		SourceLabel: "Patient", SourceProp: "id", SourceKey: "patient_id",
		TargetLabel: "Medication", TargetProp: "id", TargetKey: "medication_id",
		Fields: []FieldMap{{Source: "adherence_score", Target: "adherenceScore"}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("valid rel mapping rejected: %v", err)
	}

	m2 := m
	m2.Type = "BAD TYPE"
	if err := m2.Validate(); err == nil {
		t.Error("invalid type accepted")
	}
	m3 := m
	m3.SourceKey = ""
	if err := m3.Validate(); err == nil {
		t.Error("empty source key accepted")
	}
}

func TestBuildNodeRowsSkipsNullKeys(t *testing.T) {
	m := patientMapping()
	now := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	rows := []domain.Row{
		{"patient_id": "PAT-001", "mrn": "MRN-1", "first_name": "Ada", "risk_score": 7.5},
		{"patient_id": nil, "mrn": "MRN-2", "first_name": "Ben"},
		{"patient_id": "PAT-003", "mrn": "   ", "first_name": "Cy"},
	}

	params, skipped := buildNodeRows(m, rows, "synapse_etl", now)
	if skipped != 2 {
		t.Fatalf("expected 2 null-key rows skipped, got %d", skipped)
	}
	if len(params) != 1 {
		t.Fatalf("expected 1 parameter row, got %d", len(params))
	}
	p := params[0]
	if p["id"] != "PAT-001" || p["firstName"] != "Ada" {
		t.Errorf("rename not applied: %#v", p)
	}
	if p["extractionSource"] != "synapse_etl" {
		t.Errorf("missing extraction source stamp: %#v", p)
	}
	if p["extractedAt"] != now.Format(time.RFC3339) {
		t.Errorf("missing extractedAt stamp: %#v", p)
	}
}

func TestBuildNodeRowsEmbeddingsFlatten(t *testing.T) {
	m := patientMapping()
	emb := domain.Embedding{Vector: []float32{0.5, -0.25}, Fallback: false}
	rows := []domain.Row{
		{"patient_id": "PAT-001", "mrn": "MRN-1", "policyTextEmbedding": emb},
	}
	params, _ := buildNodeRows(m, rows, "synapse_etl", time.Now().UTC())
	vec, ok := params[0]["policyTextEmbedding"].([]float64)
	if !ok {
		t.Fatalf("embedding not flattened to []float64: %#v", params[0]["policyTextEmbedding"])
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("embedding values lost: %v", vec)
	}
	// The fallback flag is in-memory only; it must not leak into the graph.
	if _, present := params[0]["fallback"]; present {
		t.Error("fallback marker leaked into node properties")
	}
}

func TestBuildRelRowsNestsProps(t *testing.T) {
	m := RelMapping{
		Type:        "PRESCRIBED",
		SourceLabel: "Patient", SourceProp: "id", SourceKey: "patient_id",
		TargetLabel: "Medication", TargetProp: "id", TargetKey: "medication_id",
		Fields: []FieldMap{{Source: "adherence_score", Target: "adherenceScore"}},
	}
	rows := []domain.Row{
		{"patient_id": "PAT-001", "medication_id": "MED-1", "adherence_score": 91.0},
		{"patient_id": "PAT-002", "medication_id": nil, "adherence_score": 10.0},
	}
	params, skipped := buildRelRows(m, rows, "synapse_etl", time.Now().UTC())
	if skipped != 1 || len(params) != 1 {
		t.Fatalf("expected 1 kept / 1 skipped, got %d / %d", len(params), skipped)
	}
	if params[0]["sourceKey"] != "PAT-001" || params[0]["targetKey"] != "MED-1" {
		t.Errorf("endpoint keys missing: %#v", params[0])
	}
	props, ok := params[0]["props"].(map[string]any)
	if !ok || props["adherenceScore"] != 91.0 {
		t.Errorf("relationship properties not nested: %#v", params[0])
	}
	if _, leak := props["sourceKey"]; leak {
		t.Error("endpoint key leaked into relationship properties")
	}
}

func TestUpsertQueriesMergeOnKeys(t *testing.T) {
	nq := nodeUpsertQuery(patientMapping())
	if !strings.Contains(nq, "MERGE (n:Patient {id: row.id, mrn: row.mrn})") {
		t.Errorf("node query must merge on the full key tuple:\n%s", nq)
	}
	if !strings.Contains(nq, "UNWIND $rows") || !strings.Contains(nq, "SET n += row") {
		t.Errorf("node query shape unexpected:\n%s", nq)
	}

	rq := relUpsertQuery(RelMapping{
		Type:        "PRESCRIBED",
		SourceLabel: "Patient", SourceProp: "id", SourceKey: "patient_id",
		TargetLabel: "Medication", TargetProp: "id", TargetKey: "medication_id",
	})
	for _, want := range []string{
		"MATCH (a:Patient {id: row.sourceKey})",
		"MATCH (b:Medication {id: row.targetKey})",
		"MERGE (a)-[r:PRESCRIBED]->(b)",
		"SET r += row.props",
	} {
		if !strings.Contains(rq, want) {
			t.Errorf("rel query missing %q:\n%s", want, rq)
		}
	}
}

func TestConstraintStatementsMatchMergeIdentity(t *testing.T) {
	stmts := constraintStatements(patientMapping())
	if len(stmts) != 1 {
		t.Fatalf("expected one composite constraint, got %d: %v", len(stmts), stmts)
	}
	// The constraint must cover exactly the key tuple MERGE uses; one
	// constraint per key would reject rows sharing a single key column.
	want := "CREATE CONSTRAINT patient_key_unique IF NOT EXISTS FOR (n:Patient) REQUIRE (n.id, n.mrn) IS UNIQUE"
	if stmts[0] != want {
		t.Errorf("constraint mismatch:\n got %s\nwant %s", stmts[0], want)
	}

	single := NodeMapping{Label: "Medication", Keys: []FieldMap{{Source: "medication_id", Target: "id"}}}
	got := constraintStatements(single)
	if len(got) != 1 || !strings.Contains(got[0], "REQUIRE (n.id) IS UNIQUE") {
		t.Errorf("single-key constraint unexpected: %v", got)
	}
}

func TestGraphValueCoercions(t *testing.T) {
	ts := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	if got := graphValue(ts); got != "2024-03-01T02:00:00Z" {
		t.Errorf("time not rendered RFC3339: %v", got)
	}
	if got := graphValue([]byte("text")); got != "text" {
		t.Errorf("bytes not stringified: %v", got)
	}
	if got := graphValue((*time.Time)(nil)); got != nil {
		t.Errorf("nil *time must stay nil: %v", got)
	}
	if got := graphValue(float32(1.5)); got != float64(1.5) {
		t.Errorf("float32 not widened: %v", got)
	}
}
