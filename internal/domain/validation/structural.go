package validation

import (
	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// StructuralLayer checks each resource against the base structural rules:
// known resource type, valid status vocabulary, well-formed references.
type StructuralLayer struct {
	validator *fhir.Validator
}

func NewStructuralLayer() *StructuralLayer {
	return &StructuralLayer{validator: fhir.NewValidator()}
}

func (l *StructuralLayer) Check(rec *fhir.Record) []rules.Finding {
	var findings []rules.Finding
	for _, inst := range rec.All() {
		for _, issue := range l.validator.ValidateResource(inst.Resource) {
			findings = append(findings, rules.Finding{
				Source:   rules.SourceStructural,
				Severity: issueSeverity(issue.Severity),
				Code:     structuralCode(issue.Code),
				Path:     issuePath(inst, issue),
				Message:  issue.Diagnostics,
			})
		}
	}
	return findings
}

// issueSeverity maps OperationOutcome severities onto finding severities.
// Fatal folds into error; anything unrecognised degrades to information.
func issueSeverity(s string) rules.Severity {
	switch s {
	case fhir.IssueSeverityFatal, fhir.IssueSeverityError:
		return rules.SeverityError
	case fhir.IssueSeverityWarning:
		return rules.SeverityWarning
	default:
		return rules.SeverityInformation
	}
}

// structuralCode translates issue types to the structural code vocabulary.
var structuralIssueCodes = map[string]string{
	fhir.IssueTypeInvalid:     "INVALID_RESOURCE",
	fhir.IssueTypeStructure:   "INVALID_STRUCTURE",
	fhir.IssueTypeRequired:    "MISSING_ELEMENT",
	fhir.IssueTypeValue:       "INVALID_VALUE",
	fhir.IssueTypeCodeInvalid: "INVALID_CODE",
}

func structuralCode(issueType string) string {
	if code, ok := structuralIssueCodes[issueType]; ok {
		return code
	}
	return "STRUCTURAL_ISSUE"
}

func issuePath(inst fhir.ResourceInstance, issue fhir.OperationOutcomeIssue) string {
	if len(issue.Expression) > 0 {
		return inst.Location() + "." + issue.Expression[0]
	}
	return inst.Location()
}
