package fhir

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// referencePattern matches relative FHIR references in "ResourceType/id" form.
var referencePattern = regexp.MustCompile(`^[A-Z][a-zA-Z]+/[a-zA-Z0-9\-\.]{1,64}$`)

// knownResourceTypes lists the FHIR R4 resource types this validator accepts
// inside a record.
var knownResourceTypes = map[string]bool{
	"Patient": true, "Practitioner": true, "PractitionerRole": true,
	"Organization": true, "Location": true, "Encounter": true,
	"Condition": true, "Observation": true, "AllergyIntolerance": true,
	"Procedure": true, "Medication": true, "MedicationRequest": true,
	"MedicationStatement": true, "ServiceRequest": true,
	"DiagnosticReport": true, "ImagingStudy": true, "Specimen": true,
	"Coverage": true, "Claim": true, "Consent": true,
	"DocumentReference": true, "Composition": true, "Communication": true,
	"Questionnaire": true, "QuestionnaireResponse": true,
	"Bundle": true, "CareTeam": true, "CarePlan": true,
	"Immunization": true, "FamilyMemberHistory": true, "RelatedPerson": true,
}

// statusValues maps resource types to their valid status codes per FHIR R4.
var statusValues = map[string][]string{
	"Patient":               {"active", "inactive", "entered-in-error"},
	"Encounter":             {"planned", "arrived", "triaged", "in-progress", "onleave", "finished", "cancelled", "entered-in-error", "unknown"},
	"Condition":             {"active", "recurrence", "relapse", "inactive", "remission", "resolved"},
	"Observation":           {"registered", "preliminary", "final", "amended", "corrected", "cancelled", "entered-in-error", "unknown"},
	"AllergyIntolerance":    {"active", "inactive", "resolved"},
	"Procedure":             {"preparation", "in-progress", "not-done", "on-hold", "stopped", "completed", "entered-in-error", "unknown"},
	"MedicationRequest":     {"active", "on-hold", "cancelled", "completed", "entered-in-error", "stopped", "draft", "unknown"},
	"MedicationStatement":   {"active", "completed", "entered-in-error", "intended", "stopped", "on-hold", "unknown", "not-taken"},
	"ServiceRequest":        {"draft", "active", "on-hold", "revoked", "completed", "entered-in-error", "unknown"},
	"DiagnosticReport":      {"registered", "partial", "preliminary", "final", "amended", "corrected", "appended", "cancelled", "entered-in-error", "unknown"},
	"Coverage":              {"active", "cancelled", "draft", "entered-in-error"},
	"Claim":                 {"active", "cancelled", "draft", "entered-in-error"},
	"Consent":               {"draft", "proposed", "active", "rejected", "inactive", "entered-in-error"},
	"DocumentReference":     {"current", "superseded", "entered-in-error"},
	"Composition":           {"preliminary", "final", "amended", "entered-in-error"},
	"QuestionnaireResponse": {"in-progress", "completed", "amended", "entered-in-error", "stopped"},
	"Immunization":          {"completed", "entered-in-error", "not-done"},
}

// Validator performs structural conformance checks on decoded resources.
// It stands in for a full StructureDefinition-driven validator and covers
// the checks the record-validation layers rely on.
type Validator struct{}

// NewValidator creates a structural validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateResource checks one decoded resource: resourceType presence and
// vocabulary, status vocabulary, and reference formats. Issue expressions
// are relative to the resource root.
func (v *Validator) ValidateResource(resource map[string]interface{}) []OperationOutcomeIssue {
	var issues []OperationOutcomeIssue

	rt, ok := resource["resourceType"].(string)
	if !ok || rt == "" {
		issues = append(issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeRequired,
			Diagnostics: "resourceType is required",
			Expression:  []string{"resourceType"},
		})
		return issues
	}
	if !knownResourceTypes[rt] {
		issues = append(issues, OperationOutcomeIssue{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: fmt.Sprintf("unknown resourceType: %s", rt),
			Expression:  []string{"resourceType"},
		})
		return issues
	}

	issues = append(issues, v.checkStatus(rt, resource)...)

	for _, ref := range CollectReferences(resource) {
		if ref.Value == "" || strings.HasPrefix(ref.Value, "urn:") ||
			strings.HasPrefix(ref.Value, "http://") || strings.HasPrefix(ref.Value, "https://") ||
			strings.HasPrefix(ref.Value, "#") {
			continue
		}
		if !referencePattern.MatchString(ref.Value) {
			issues = append(issues, OperationOutcomeIssue{
				Severity:    IssueSeverityError,
				Code:        IssueTypeValue,
				Diagnostics: fmt.Sprintf("invalid reference format %q; expected 'ResourceType/id'", ref.Value),
				Expression:  []string{ref.Path},
			})
		}
	}

	return issues
}

func (v *Validator) checkStatus(rt string, resource map[string]interface{}) []OperationOutcomeIssue {
	raw, ok := resource["status"]
	if !ok {
		return nil
	}
	status, ok := raw.(string)
	if !ok {
		return []OperationOutcomeIssue{{
			Severity:    IssueSeverityError,
			Code:        IssueTypeValue,
			Diagnostics: "status must be a string",
			Expression:  []string{"status"},
		}}
	}
	valid, has := statusValues[rt]
	if !has {
		return nil
	}
	for _, s := range valid {
		if s == status {
			return nil
		}
	}
	return []OperationOutcomeIssue{{
		Severity:    IssueSeverityError,
		Code:        IssueTypeCodeInvalid,
		Diagnostics: fmt.Sprintf("invalid status %q for %s; valid values: %s", status, rt, strings.Join(valid, ", ")),
		Expression:  []string{"status"},
	}}
}

// ReferenceField is a reference string found somewhere inside a resource.
type ReferenceField struct {
	Path  string // dotted path to the reference element, with array indices
	Value string
}

// CollectReferences walks a decoded resource and returns every Reference
// element in a stable order.
func CollectReferences(resource map[string]interface{}) []ReferenceField {
	var out []ReferenceField
	walkReferences(resource, "", &out)
	return out
}

func walkReferences(obj map[string]interface{}, path string, out *[]ReferenceField) {
	for _, key := range SortedKeys(obj) {
		val := obj[key]
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		switch typed := val.(type) {
		case map[string]interface{}:
			if ref, ok := typed["reference"].(string); ok && ref != "" {
				*out = append(*out, ReferenceField{Path: childPath + ".reference", Value: ref})
			}
			walkReferences(typed, childPath, out)
		case []interface{}:
			for i, item := range typed {
				if m, ok := item.(map[string]interface{}); ok {
					walkReferences(m, fmt.Sprintf("%s[%d]", childPath, i), out)
				}
			}
		}
	}
}

// CodingField is a coding (system + code pair) found inside a resource.
type CodingField struct {
	Path    string
	System  string
	Code    string
	Display string
}

// CollectCodings walks a decoded resource and returns every element carrying
// both a system and a code, in a stable order.
func CollectCodings(resource map[string]interface{}) []CodingField {
	var out []CodingField
	walkCodings(resource, "", &out)
	return out
}

func walkCodings(obj map[string]interface{}, path string, out *[]CodingField) {
	system, hasSystem := obj["system"].(string)
	code, hasCode := obj["code"].(string)
	if hasSystem && hasCode && system != "" && code != "" {
		display, _ := obj["display"].(string)
		*out = append(*out, CodingField{Path: path, System: system, Code: code, Display: display})
	}
	for _, key := range SortedKeys(obj) {
		val := obj[key]
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		switch typed := val.(type) {
		case map[string]interface{}:
			walkCodings(typed, childPath, out)
		case []interface{}:
			for i, item := range typed {
				if m, ok := item.(map[string]interface{}); ok {
					walkCodings(m, fmt.Sprintf("%s[%d]", childPath, i), out)
				}
			}
		}
	}
}

// SortedKeys returns the map keys in lexical order. Walk order over objects
// must be stable so finding lists are deterministic for identical input.
func SortedKeys(obj map[string]interface{}) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownResourceType reports whether the resource type is recognized.
func IsKnownResourceType(rt string) bool {
	return knownResourceTypes[rt]
}

// ValidStatusValues returns the valid status codes for a resource type, or
// nil when the type has no status vocabulary here.
func ValidStatusValues(resourceType string) []string {
	return statusValues[resourceType]
}
