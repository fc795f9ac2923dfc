// Package coverage reports how completely a rule set covers the element
// paths of a resource schema, and which suggested rules would close gaps.
package coverage

import (
	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// Status classifies one schema path. Covered beats suggested; suggested
// beats uncovered.
type Status string

const (
	StatusCovered   Status = "covered"
	StatusSuggested Status = "suggested"
	StatusUncovered Status = "uncovered"
)

// Suggestion is a proposed rule that has not been accepted into the set.
type Suggestion struct {
	ID           uuid.UUID `json:"id"`
	ResourceType string    `json:"resourceType"`
	FieldPath    string    `json:"fieldPath"`
}

// Node is the coverage verdict for one schema path.
type Node struct {
	Path         string          `json:"path"`
	Status       Status          `json:"status"`
	Match        rules.MatchKind `json:"-"`
	MatchName    string          `json:"match,omitempty"`
	RuleID       *uuid.UUID      `json:"ruleId,omitempty"`
	SuggestionID *uuid.UUID      `json:"suggestionId,omitempty"`
}

// Summary aggregates a coverage run. Covered, Suggested and Uncovered
// partition Total exactly.
type Summary struct {
	ResourceType string         `json:"resourceType"`
	Total        int            `json:"total"`
	Covered      int            `json:"covered"`
	Suggested    int            `json:"suggested"`
	Uncovered    int            `json:"uncovered"`
	ByMatch      map[string]int `json:"byMatch"`
	Percent      float64        `json:"percent"`
	Nodes        []Node         `json:"nodes"`
}

// Analyze walks every path in the schema tree and classifies it against the
// rule set first and the suggestions second. A path a rule covers is never
// reported as suggested, whatever the suggestions say.
func Analyze(schema *fhir.SchemaTree, ruleSet []rules.Rule, suggestions []Suggestion) *Summary {
	summary := &Summary{
		ResourceType: schema.ResourceType,
		ByMatch:      map[string]int{},
	}

	scoped := rulesForType(ruleSet, schema.ResourceType)
	for _, path := range schema.FlattenPaths() {
		node := classify(path, schema.ResourceType, scoped, suggestions)
		summary.Nodes = append(summary.Nodes, node)
		summary.Total++
		switch node.Status {
		case StatusCovered:
			summary.Covered++
			summary.ByMatch[node.MatchName]++
		case StatusSuggested:
			summary.Suggested++
		default:
			summary.Uncovered++
		}
	}
	if summary.Total > 0 {
		summary.Percent = float64(summary.Covered) / float64(summary.Total) * 100
	}
	return summary
}

func classify(path, resourceType string, scoped []rules.Rule, suggestions []Suggestion) Node {
	node := Node{Path: path, Status: StatusUncovered}

	if rule, kind := rules.MatchBestRule(scoped, path); kind != rules.MatchNone {
		id := rule.ID
		node.Status = StatusCovered
		node.Match = kind
		node.MatchName = kind.String()
		node.RuleID = &id
		return node
	}

	target := rules.NormalizePath(path, "")
	for i := range suggestions {
		s := &suggestions[i]
		if s.ResourceType != resourceType {
			continue
		}
		sp := rules.NormalizePath(s.FieldPath, s.ResourceType)
		if rules.MatchStrength(sp, target) != rules.MatchNone {
			id := s.ID
			node.Status = StatusSuggested
			node.SuggestionID = &id
			return node
		}
	}
	return node
}

func rulesForType(ruleSet []rules.Rule, resourceType string) []rules.Rule {
	scoped := make([]rules.Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.ResourceType == resourceType && r.FieldPath != "" {
			scoped = append(scoped, r)
		}
	}
	return scoped
}
