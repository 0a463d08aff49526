package medications

import (
	"testing"
)

func TestMappingIsValid(t *testing.T) {
	if err := Mapping().Validate(); err != nil {
		t.Fatalf("medication mapping invalid: %v", err)
	}
}

func TestMappingSourcesAreFetched(t *testing.T) {
	fetched := map[string]bool{}
	for _, c := range FetchSpec().Columns {
		fetched[c] = true
	}
	m := Mapping()
	for _, f := range append(m.Keys, m.Fields...) {
		if !fetched[f.Source] {
			t.Errorf("mapping reads column %q the fetch spec does not select", f.Source)
		}
	}
}
