package validation

import (
	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/rules"
)

// VerdictStatus summarises a report.
type VerdictStatus string

const (
	StatusCompliant           VerdictStatus = "compliant"
	StatusCompliantWithAdvice VerdictStatus = "compliant-with-recommendations"
	StatusNonCompliant        VerdictStatus = "non-compliant"
)

// Report is the aggregated outcome of one validation run. Findings holds
// every finding in pipeline order; MustFix and Recommendations partition it
// by the blocking formula.
type Report struct {
	Findings        []rules.Finding `json:"findings"`
	MustFix         []rules.Finding `json:"mustFix"`
	Recommendations []rules.Finding `json:"recommendations"`
	Status          VerdictStatus   `json:"status"`
	Groups          []FindingGroup  `json:"groups,omitempty"`
	Ungrouped       []rules.Finding `json:"ungrouped,omitempty"`
}

// Blocking reports whether the record must be rejected.
func (r *Report) Blocking() bool {
	return r.Status == StatusNonCompliant
}

// FindingGroup collapses repeated findings for display. Grouping never
// changes MustFix or the verdict; every member still counts individually.
type FindingGroup struct {
	Source   rules.Source    `json:"source"`
	Code     string          `json:"code"`
	RuleID   *uuid.UUID      `json:"ruleId,omitempty"`
	Count    int             `json:"count"`
	Findings []rules.Finding `json:"findings"`
}

type groupKey struct {
	source rules.Source
	code   string
	ruleID uuid.UUID
}

// Aggregate partitions findings into must-fix and recommendations, derives
// the verdict, and groups findings that share source, code and rule.
// Groups appear in first-seen order; a group needs at least two members,
// otherwise the finding stays in Ungrouped.
func Aggregate(findings []rules.Finding) *Report {
	rep := &Report{Findings: findings, Status: StatusCompliant}

	for _, f := range findings {
		if IsBlocking(f) {
			rep.MustFix = append(rep.MustFix, f)
		} else {
			rep.Recommendations = append(rep.Recommendations, f)
		}
	}
	switch {
	case len(rep.MustFix) > 0:
		rep.Status = StatusNonCompliant
	case len(rep.Recommendations) > 0:
		rep.Status = StatusCompliantWithAdvice
	}

	byKey := make(map[groupKey]*FindingGroup)
	var order []groupKey
	for _, f := range findings {
		key := groupKey{source: f.Source, code: f.Code}
		if f.RuleID != nil {
			key.ruleID = *f.RuleID
		}
		g, ok := byKey[key]
		if !ok {
			g = &FindingGroup{Source: f.Source, Code: f.Code, RuleID: f.RuleID}
			byKey[key] = g
			order = append(order, key)
		}
		g.Count++
		g.Findings = append(g.Findings, f)
	}
	for _, key := range order {
		g := byKey[key]
		if g.Count >= 2 {
			rep.Groups = append(rep.Groups, *g)
		} else {
			rep.Ungrouped = append(rep.Ungrouped, g.Findings[0])
		}
	}
	return rep
}
