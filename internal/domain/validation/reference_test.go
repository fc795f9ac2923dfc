package validation

import (
	"testing"

	"github.com/clincheck/clincheck/internal/domain/rules"
)

func TestReferenceLayer_ResolvesByTypeAndID(t *testing.T) {
	rec := mustRecord(t, `{
		"resourceType": "Bundle",
		"entry": [
			{"resource": {"resourceType": "Patient", "id": "p1"}},
			{"resource": {
				"resourceType": "Observation", "id": "o1", "status": "final",
				"subject": {"reference": "Patient/p1"}
			}}
		]
	}`)
	if findings := NewReferenceLayer().Check(rec); len(findings) != 0 {
		t.Errorf("expected no findings, got %v", findingCodes(findings))
	}
}

func TestReferenceLayer_ResolvesByFullURL(t *testing.T) {
	rec := mustRecord(t, `{
		"resourceType": "Bundle",
		"entry": [
			{"fullUrl": "urn:uuid:1d2a", "resource": {"resourceType": "Patient"}},
			{"resource": {
				"resourceType": "Observation", "status": "final",
				"subject": {"reference": "urn:uuid:1d2a"}
			}}
		]
	}`)
	if findings := NewReferenceLayer().Check(rec); len(findings) != 0 {
		t.Errorf("expected no findings, got %v", findingCodes(findings))
	}
}

func TestReferenceLayer_Dangling(t *testing.T) {
	rec := mustRecord(t, `{
		"resourceType": "Bundle",
		"entry": [{"resource": {
			"resourceType": "Observation", "id": "o1", "status": "final",
			"subject": {"reference": "Patient/missing"}
		}}]
	}`)
	findings := NewReferenceLayer().Check(rec)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Code != "REFERENCE_NOT_FOUND" || f.Source != rules.SourceReference || f.Severity != rules.SeverityError {
		t.Errorf("finding = %+v, want reference error REFERENCE_NOT_FOUND", f)
	}
	if f.Path != "Observation[0].subject.reference" {
		t.Errorf("path = %q, want Observation[0].subject.reference", f.Path)
	}
}

func TestReferenceLayer_SkipsExternalAndContained(t *testing.T) {
	rec := mustRecord(t, `{
		"resourceType": "Bundle",
		"entry": [{"resource": {
			"resourceType": "Observation", "id": "o1", "status": "final",
			"subject": {"reference": "https://example.org/fhir/Patient/ext"},
			"performer": [{"reference": "#contained-practitioner"}]
		}}]
	}`)
	if findings := NewReferenceLayer().Check(rec); len(findings) != 0 {
		t.Errorf("external and contained references must pass, got %v", findingCodes(findings))
	}
}

func TestReferenceLayer_NestedArrayReference(t *testing.T) {
	rec := mustRecord(t, `{
		"resourceType": "Bundle",
		"entry": [{"resource": {
			"resourceType": "Encounter", "id": "e1", "status": "finished",
			"participant": [
				{"individual": {"reference": "Practitioner/nowhere"}}
			]
		}}]
	}`)
	findings := NewReferenceLayer().Check(rec)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].Path != "Encounter[0].participant[0].individual.reference" {
		t.Errorf("path = %q", findings[0].Path)
	}
}
