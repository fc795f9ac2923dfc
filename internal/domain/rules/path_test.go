package rules

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		resourceType string
		want         string
	}{
		{"plain path untouched", "identifier.system", "Patient", "identifier.system"},
		{"resource prefix stripped", "Patient.identifier.system", "Patient", "identifier.system"},
		{"prefix of other type kept", "Observation.code", "Patient", "Observation.code"},
		{"count suffix stripped", "identifier.count()", "Patient", "identifier"},
		{"exists suffix stripped", "identifier.exists()", "Patient", "identifier"},
		{"stacked suffixes stripped", "identifier.count().exists()", "Patient", "identifier"},
		{"where clause stripped", "identifier.where(system = 'urn:oid:1.2').value", "Patient", "identifier.value"},
		{"nested parens in where", "item.where(linkId.startsWith('a (b)')).answer", "QuestionnaireResponse", "item.answer"},
		{"concrete index collapsed", "name[0].given", "Patient", "name.given"},
		{"wildcard preserved", "name[*].given", "Patient", "name[*].given"},
		{"bare resource type empties", "Patient", "Patient", ""},
		{"everything at once", "Patient.identifier[0].where(use = 'official').value.exists()", "Patient", "identifier.value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePath(tt.path, tt.resourceType)
			if got != tt.want {
				t.Errorf("NormalizePath(%q, %q) = %q, want %q", tt.path, tt.resourceType, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_Idempotent(t *testing.T) {
	paths := []string{
		"Patient.identifier[0].system",
		"name[*].given",
		"item.where(linkId = 'q1').answer.count()",
		"identifier.system",
	}
	for _, p := range paths {
		once := NormalizePath(p, "Patient")
		twice := NormalizePath(once, "Patient")
		if once != twice {
			t.Errorf("NormalizePath not idempotent for %q: first %q, second %q", p, once, twice)
		}
	}
}

func TestCheckStoredPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"identifier.system", false},
		{"name[*].given", false},
		{"_field.sub", false},
		{"", true},
		{"identifier.where(use = 'official').value", true},
		{"identifier.count()", true},
		{"name[0].given", true},
		{"Patient.identifier", true},
		{"identifier..system", true},
	}
	for _, tt := range tests {
		err := CheckStoredPath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckStoredPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestIsWildcardMatch_Asymmetric(t *testing.T) {
	if !IsWildcardMatch("identifier[*].system", "identifier.system") {
		t.Error("wildcard rule should cover the concrete path")
	}
	if IsWildcardMatch("identifier.system", "identifier[*].system") {
		t.Error("concrete rule must not cover a wildcard target")
	}
	if IsWildcardMatch("identifier[*].system", "identifier[*].system") {
		t.Error("wildcard target must not be wildcard-matched")
	}
}

func TestIsParentMatch(t *testing.T) {
	tests := []struct {
		rule, target string
		want         bool
	}{
		{"identifier", "identifier.system", true},
		{"identifier", "identifier", false},
		{"identifier", "identifiers.system", false},
		{"name.given", "name.given.first", true},
	}
	for _, tt := range tests {
		if got := IsParentMatch(tt.rule, tt.target); got != tt.want {
			t.Errorf("IsParentMatch(%q, %q) = %v, want %v", tt.rule, tt.target, got, tt.want)
		}
	}
}

func TestMatchStrength_Priority(t *testing.T) {
	if !(MatchExact > MatchWildcard && MatchWildcard > MatchParent && MatchParent > MatchNone) {
		t.Fatal("match kinds must rank exact > wildcard > parent > none")
	}
}

func newPathRule(resourceType, fieldPath string) Rule {
	return Rule{
		ID:           uuid.New(),
		ResourceType: resourceType,
		Scope:        ScopeAllInstances(),
		Type:         TypeRequired,
		FieldPath:    fieldPath,
		Severity:     SeverityError,
		Enabled:      true,
	}
}

func TestMatchBestRule(t *testing.T) {
	parent := newPathRule("Patient", "identifier")
	wildcard := newPathRule("Patient", "identifier[*].system")
	exact := newPathRule("Patient", "identifier.system")

	t.Run("exact beats wildcard and parent", func(t *testing.T) {
		got, kind := MatchBestRule([]Rule{parent, wildcard, exact}, "identifier.system")
		if kind != MatchExact || got.ID != exact.ID {
			t.Errorf("got kind %v rule %v, want exact match on the exact rule", kind, got.ID)
		}
	})

	t.Run("wildcard beats parent regardless of order", func(t *testing.T) {
		got, kind := MatchBestRule([]Rule{parent, wildcard}, "identifier.system")
		if kind != MatchWildcard || got.ID != wildcard.ID {
			t.Errorf("got kind %v, want wildcard match", kind)
		}
	})

	t.Run("first rule wins within one strength", func(t *testing.T) {
		first := newPathRule("Patient", "identifier.system")
		second := newPathRule("Patient", "identifier.system")
		got, kind := MatchBestRule([]Rule{first, second}, "identifier.system")
		if kind != MatchExact || got.ID != first.ID {
			t.Errorf("got rule %v, want the first exact rule in set order", got.ID)
		}
	})

	t.Run("no match", func(t *testing.T) {
		got, kind := MatchBestRule([]Rule{exact}, "birthDate")
		if kind != MatchNone || got != nil {
			t.Errorf("got kind %v rule %v, want no match", kind, got)
		}
	})

	t.Run("target with prefix is normalized", func(t *testing.T) {
		_, kind := MatchBestRule([]Rule{exact}, "identifier[0].system")
		if kind != MatchExact {
			t.Errorf("got kind %v, want exact after target normalization", kind)
		}
	})
}
