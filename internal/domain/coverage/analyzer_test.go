package coverage

import (
	"testing"

	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

func patientSchema(t *testing.T) *fhir.SchemaTree {
	t.Helper()
	tree, err := fhir.BuildSchemaTree("Patient", []fhir.ElementDef{
		{Path: "identifier", Type: "Identifier", Max: "*"},
		{Path: "identifier.system", Type: "uri", Max: "1"},
		{Path: "identifier.value", Type: "string", Max: "1"},
		{Path: "gender", Type: "code", Max: "1"},
		{Path: "birthDate", Type: "date", Max: "1"},
	})
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return tree
}

func coverageRule(fieldPath string) rules.Rule {
	return rules.Rule{
		ID:           uuid.New(),
		ResourceType: "Patient",
		Scope:        rules.InstanceScope{Kind: rules.ScopeAll},
		Type:         rules.TypeRequired,
		FieldPath:    fieldPath,
		Severity:     rules.SeverityError,
		Enabled:      true,
	}
}

func nodeFor(t *testing.T, s *Summary, path string) Node {
	t.Helper()
	for _, n := range s.Nodes {
		if n.Path == path {
			return n
		}
	}
	t.Fatalf("no node for path %q", path)
	return Node{}
}

func TestAnalyze_Partition(t *testing.T) {
	schema := patientSchema(t)
	ruleSet := []rules.Rule{coverageRule("birthDate"), coverageRule("identifier[*].value")}
	suggestions := []Suggestion{
		{ID: uuid.New(), ResourceType: "Patient", FieldPath: "gender"},
	}

	s := Analyze(schema, ruleSet, suggestions)

	if s.Total != 5 {
		t.Fatalf("total = %d, want 5 schema paths", s.Total)
	}
	if s.Covered+s.Suggested+s.Uncovered != s.Total {
		t.Errorf("partition broken: %d + %d + %d != %d", s.Covered, s.Suggested, s.Uncovered, s.Total)
	}
	if s.Covered != 2 {
		// birthDate exact, identifier.value wildcard.
		t.Errorf("covered = %d, want 2", s.Covered)
	}
	if s.Suggested != 1 || s.Uncovered != 2 {
		t.Errorf("suggested = %d, uncovered = %d, want 1 and 2", s.Suggested, s.Uncovered)
	}
	if s.Percent != 40 {
		t.Errorf("percent = %v, want 40", s.Percent)
	}
}

func TestAnalyze_MatchKinds(t *testing.T) {
	schema := patientSchema(t)
	ruleSet := []rules.Rule{
		coverageRule("birthDate"),
		coverageRule("identifier[*].value"),
		coverageRule("identifier"),
	}

	s := Analyze(schema, ruleSet, nil)

	if n := nodeFor(t, s, "birthDate"); n.MatchName != "exact" || n.RuleID == nil {
		t.Errorf("birthDate node = %+v, want exact match with rule id", n)
	}
	// The wildcard rule beats the parent match from the "identifier" rule.
	if n := nodeFor(t, s, "identifier.value"); n.MatchName != "wildcard" {
		t.Errorf("identifier.value node = %+v, want wildcard match", n)
	}
	if n := nodeFor(t, s, "identifier.system"); n.MatchName != "parent" {
		t.Errorf("identifier.system node = %+v, want parent match", n)
	}
	if got := s.ByMatch; got["exact"] != 2 || got["wildcard"] != 1 || got["parent"] != 1 {
		t.Errorf("byMatch = %v", got)
	}
}

func TestAnalyze_CoveredBeatsSuggested(t *testing.T) {
	schema := patientSchema(t)
	ruleSet := []rules.Rule{coverageRule("birthDate")}
	suggestions := []Suggestion{
		{ID: uuid.New(), ResourceType: "Patient", FieldPath: "birthDate"},
	}

	s := Analyze(schema, ruleSet, suggestions)
	n := nodeFor(t, s, "birthDate")
	if n.Status != StatusCovered || n.SuggestionID != nil {
		t.Errorf("node = %+v; a covered path must never be reported as suggested", n)
	}
}

func TestAnalyze_OtherResourceTypeIgnored(t *testing.T) {
	schema := patientSchema(t)
	ruleSet := []rules.Rule{{
		ID:           uuid.New(),
		ResourceType: "Observation",
		Scope:        rules.InstanceScope{Kind: rules.ScopeAll},
		Type:         rules.TypeRequired,
		FieldPath:    "birthDate",
		Severity:     rules.SeverityError,
		Enabled:      true,
	}}
	suggestions := []Suggestion{
		{ID: uuid.New(), ResourceType: "Observation", FieldPath: "gender"},
	}

	s := Analyze(schema, ruleSet, suggestions)
	if s.Covered != 0 || s.Suggested != 0 {
		t.Errorf("rules and suggestions for other types must not count, got %+v", s)
	}
}

func TestAnalyze_EmptySchema(t *testing.T) {
	tree, err := fhir.BuildSchemaTree("Patient", nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	s := Analyze(tree, nil, nil)
	if s.Total != 0 || s.Percent != 0 {
		t.Errorf("summary = %+v, want empty", s)
	}
}
