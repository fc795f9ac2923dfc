package validation

import (
	"testing"

	"github.com/clincheck/clincheck/internal/domain/rules"
)

const loincURL = "http://loinc.org"

func codedObservation(system, code string) string {
	return `{
		"resourceType": "Bundle",
		"entry": [{"resource": {
			"resourceType": "Observation", "id": "o1", "status": "final",
			"code": {"coding": [{"system": "` + system + `", "code": "` + code + `", "display": "x"}]}
		}}]
	}`
}

func TestTerminologyLayer(t *testing.T) {
	index := MapCodeIndex{loincURL: {"8867-4": true, "8480-6": true}}
	layer := NewTerminologyLayer(index)

	t.Run("member code passes", func(t *testing.T) {
		rec := mustRecord(t, codedObservation(loincURL, "8867-4"))
		if findings := layer.Check(rec); len(findings) != 0 {
			t.Errorf("expected no findings, got %v", findingCodes(findings))
		}
	})

	t.Run("non-member code fails", func(t *testing.T) {
		rec := mustRecord(t, codedObservation(loincURL, "0000-0"))
		findings := layer.Check(rec)
		if len(findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(findings))
		}
		f := findings[0]
		if f.Code != "UNKNOWN_CODE" || f.Source != rules.SourceTerminology || f.Severity != rules.SeverityError {
			t.Errorf("finding = %+v", f)
		}
		if f.Path != "Observation[0].code.coding[0]" {
			t.Errorf("path = %q, want Observation[0].code.coding[0]", f.Path)
		}
	})

	t.Run("unknown system skipped", func(t *testing.T) {
		rec := mustRecord(t, codedObservation("http://example.org/private", "anything"))
		if findings := layer.Check(rec); len(findings) != 0 {
			t.Errorf("unknown systems must not produce findings, got %v", findingCodes(findings))
		}
	})
}

func TestTerminologyLayer_NilIndex(t *testing.T) {
	rec := mustRecord(t, codedObservation(loincURL, "whatever"))
	if findings := NewTerminologyLayer(nil).Check(rec); findings != nil {
		t.Errorf("nil index must disable the layer, got %v", findingCodes(findings))
	}
}
