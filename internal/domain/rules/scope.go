package rules

import (
	"fmt"
	"strings"

	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// ScopeKind selects which instances of the owning resource type a rule
// applies to.
type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"
	ScopeFirst    ScopeKind = "first"
	ScopeFiltered ScopeKind = "filtered"
)

// FilterOperator is the comparison a scope filter applies.
type FilterOperator string

const (
	FilterEquals    FilterOperator = "equals"
	FilterNotEquals FilterOperator = "not-equals"
	FilterContains  FilterOperator = "contains"
	FilterExists    FilterOperator = "exists"
)

// ScopeFilter is the structural predicate of a filtered scope: a field path,
// a comparison, and a literal. Filters never live inside the stored field
// path text.
type ScopeFilter struct {
	FieldPath string         `json:"fieldPath"`
	Operator  FilterOperator `json:"operator"`
	Value     interface{}    `json:"value,omitempty"`
}

// InstanceScope is the tagged union of the three scope kinds. Filter is set
// only for ScopeFiltered.
type InstanceScope struct {
	Kind   ScopeKind    `json:"kind"`
	Filter *ScopeFilter `json:"filter,omitempty"`
}

// ScopeAllInstances is the default scope.
func ScopeAllInstances() InstanceScope {
	return InstanceScope{Kind: ScopeAll}
}

// Validate checks the scope configuration.
func (s InstanceScope) Validate() error {
	switch s.Kind {
	case ScopeAll, ScopeFirst:
		if s.Filter != nil {
			return fmt.Errorf("scope %q must not carry a filter", s.Kind)
		}
		return nil
	case ScopeFiltered:
		if s.Filter == nil {
			return fmt.Errorf("filtered scope requires a filter")
		}
		return s.Filter.Validate()
	case "":
		return fmt.Errorf("scope kind is required")
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
}

// Validate checks the filter's path grammar and operator.
func (f *ScopeFilter) Validate() error {
	if err := CheckStoredPath(f.FieldPath); err != nil {
		return fmt.Errorf("filter path: %w", err)
	}
	switch f.Operator {
	case FilterEquals, FilterNotEquals, FilterContains, FilterExists:
	default:
		return fmt.Errorf("unknown filter operator %q", f.Operator)
	}
	if f.Operator != FilterExists && f.Value == nil {
		return fmt.Errorf("filter operator %q requires a comparison value", f.Operator)
	}
	return nil
}

// matches evaluates the filter against one instance.
func (f *ScopeFilter) matches(inst fhir.ResourceInstance) bool {
	values := ExtractValues(inst.Resource, f.FieldPath)
	switch f.Operator {
	case FilterExists:
		return ValuePresent(values)
	case FilterEquals:
		for _, v := range values {
			if literalEquals(v, f.Value) {
				return true
			}
		}
		return false
	case FilterNotEquals:
		for _, v := range values {
			if literalEquals(v, f.Value) {
				return false
			}
		}
		return true
	case FilterContains:
		want := fmt.Sprintf("%v", f.Value)
		for _, v := range values {
			if s, ok := v.(string); ok && strings.Contains(s, want) {
				return true
			}
		}
		return false
	}
	return false
}

// Location is one concrete place a rule evaluates at: an instance of the
// owning resource type addressed by its document-order position.
type Location struct {
	ResourceType string
	Index        int
	Path         string // e.g. "Patient[0]"
	Resource     map[string]interface{}
}

// ResolveScope expands a scope against the instances of the owning resource
// type, preserving document order. A record with zero instances resolves to
// an empty list for every scope kind; absence is expressed by rules, not
// inferred here.
func ResolveScope(scope InstanceScope, instances []fhir.ResourceInstance) ([]Location, error) {
	if err := scope.Validate(); err != nil {
		return nil, &ConfigError{Field: "scope", Reason: err.Error()}
	}
	var out []Location
	for _, inst := range instances {
		if scope.Kind == ScopeFiltered && !scope.Filter.matches(inst) {
			continue
		}
		out = append(out, Location{
			ResourceType: inst.ResourceType,
			Index:        inst.Index,
			Path:         inst.Location(),
			Resource:     inst.Resource,
		})
		if scope.Kind == ScopeFirst {
			break
		}
	}
	return out, nil
}

// literalEquals compares an extracted value with a configured literal,
// coercing numeric types so a JSON 5 matches a configured int 5.
func literalEquals(v, literal interface{}) bool {
	if vf, vok := toFloat(v); vok {
		if lf, lok := toFloat(literal); lok {
			return vf == lf
		}
		return false
	}
	if vb, vok := v.(bool); vok {
		lb, lok := literal.(bool)
		return lok && vb == lb
	}
	vs, vok := v.(string)
	ls, lok := literal.(string)
	if vok && lok {
		return vs == ls
	}
	return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", literal)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
