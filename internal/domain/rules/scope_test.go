package rules

import (
	"errors"
	"testing"

	"github.com/clincheck/clincheck/internal/platform/fhir"
)

func observationInstances(t *testing.T) []fhir.ResourceInstance {
	t.Helper()
	bodies := []string{
		`{"resourceType": "Observation", "status": "final", "valueQuantity": {"value": 5}}`,
		`{"resourceType": "Observation", "status": "preliminary"}`,
		`{"resourceType": "Observation", "status": "final"}`,
	}
	instances := make([]fhir.ResourceInstance, len(bodies))
	for i, b := range bodies {
		instances[i] = fhir.ResourceInstance{
			ResourceType: "Observation",
			Index:        i,
			EntryIndex:   i,
			Resource:     decodeResource(t, b),
		}
	}
	return instances
}

func TestResolveScope_All(t *testing.T) {
	locs, err := ResolveScope(ScopeAllInstances(), observationInstances(t))
	if err != nil {
		t.Fatalf("ResolveScope: %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(locs))
	}
	for i, loc := range locs {
		if loc.Index != i {
			t.Errorf("location %d has index %d, want document order preserved", i, loc.Index)
		}
	}
	if locs[0].Path != "Observation[0]" {
		t.Errorf("unexpected location path %q", locs[0].Path)
	}
}

func TestResolveScope_First(t *testing.T) {
	locs, err := ResolveScope(InstanceScope{Kind: ScopeFirst}, observationInstances(t))
	if err != nil {
		t.Fatalf("ResolveScope: %v", err)
	}
	if len(locs) != 1 || locs[0].Index != 0 {
		t.Fatalf("expected only the first instance, got %v", locs)
	}
}

func TestResolveScope_Filtered(t *testing.T) {
	tests := []struct {
		name   string
		filter ScopeFilter
		want   []int
	}{
		{"equals", ScopeFilter{FieldPath: "status", Operator: FilterEquals, Value: "final"}, []int{0, 2}},
		{"not equals", ScopeFilter{FieldPath: "status", Operator: FilterNotEquals, Value: "final"}, []int{1}},
		{"exists", ScopeFilter{FieldPath: "valueQuantity.value", Operator: FilterExists}, []int{0}},
		{"contains", ScopeFilter{FieldPath: "status", Operator: FilterContains, Value: "lim"}, []int{1}},
		{"no match", ScopeFilter{FieldPath: "status", Operator: FilterEquals, Value: "amended"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := InstanceScope{Kind: ScopeFiltered, Filter: &tt.filter}
			locs, err := ResolveScope(scope, observationInstances(t))
			if err != nil {
				t.Fatalf("ResolveScope: %v", err)
			}
			if len(locs) != len(tt.want) {
				t.Fatalf("got %d locations, want %d", len(locs), len(tt.want))
			}
			for i, loc := range locs {
				if loc.Index != tt.want[i] {
					t.Errorf("location %d has index %d, want %d", i, loc.Index, tt.want[i])
				}
			}
		})
	}
}

func TestResolveScope_AbsentTypeIsEmptyNotError(t *testing.T) {
	locs, err := ResolveScope(ScopeAllInstances(), nil)
	if err != nil {
		t.Fatalf("absent resource type must not be an error, got %v", err)
	}
	if len(locs) != 0 {
		t.Fatalf("expected empty location list, got %d", len(locs))
	}
}

func TestResolveScope_InvalidFilterIsConfigError(t *testing.T) {
	scope := InstanceScope{
		Kind:   ScopeFiltered,
		Filter: &ScopeFilter{FieldPath: "status.where(x = 1)", Operator: FilterEquals, Value: "final"},
	}
	_, err := ResolveScope(scope, observationInstances(t))
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestInstanceScope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		scope   InstanceScope
		wantErr bool
	}{
		{"all", ScopeAllInstances(), false},
		{"first", InstanceScope{Kind: ScopeFirst}, false},
		{"filtered ok", InstanceScope{Kind: ScopeFiltered, Filter: &ScopeFilter{FieldPath: "status", Operator: FilterExists}}, false},
		{"filtered without filter", InstanceScope{Kind: ScopeFiltered}, true},
		{"all with stray filter", InstanceScope{Kind: ScopeAll, Filter: &ScopeFilter{FieldPath: "status", Operator: FilterExists}}, true},
		{"missing kind", InstanceScope{}, true},
		{"unknown kind", InstanceScope{Kind: "some"}, true},
		{"equals without value", InstanceScope{Kind: ScopeFiltered, Filter: &ScopeFilter{FieldPath: "status", Operator: FilterEquals}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
