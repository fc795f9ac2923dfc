// Package governance reviews rule sets before they are saved. The review is
// stateless and pure: it classifies each rule as OK, WARNING or BLOCKED and
// never mutates or repairs the rules it inspects.
package governance

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/rules"
)

// Status is the per-rule review verdict.
type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusBlocked Status = "BLOCKED"
)

// Issue codes that block a save.
const (
	CodePathEmbeddedFilter = "PATH_EMBEDDED_FILTER"
	CodePathConcreteIndex  = "PATH_CONCRETE_INDEX"
	CodePathResourcePrefix = "PATH_RESOURCE_PREFIX"
	CodeRuleConfigInvalid  = "RULE_CONFIG_INVALID"
)

// Issue codes that warn but do not block.
const (
	CodeDuplicateRule        = "DUPLICATE_RULE"
	CodeBroadWildcardScope   = "BROAD_WILDCARD_SCOPE"
	CodePermissivePattern    = "PERMISSIVE_PATTERN"
	CodeUnboundedComposition = "UNBOUNDED_COMPOSITION"
)

// Issue is one review observation about a rule.
type Issue struct {
	Code     string         `json:"code"`
	Severity rules.Severity `json:"severity"`
	Message  string         `json:"message"`
}

// ReviewResult carries the verdict for one rule. Blocking issues force
// StatusBlocked; warnings alone yield StatusWarning.
type ReviewResult struct {
	RuleID uuid.UUID `json:"ruleId"`
	Status Status    `json:"status"`
	Issues []Issue   `json:"issues,omitempty"`
}

// Review inspects a whole rule set and returns one result per rule, in set
// order. Malformed rules are classified and returned as data; Review never
// fails.
func Review(ruleSet []rules.Rule) []ReviewResult {
	results := make([]ReviewResult, len(ruleSet))
	for i := range ruleSet {
		results[i] = reviewRule(&ruleSet[i], ruleSet, i)
	}
	return results
}

// HasBlocked reports whether any rule in the reviewed set is blocked. A
// single blocked rule refuses the whole batch.
func HasBlocked(results []ReviewResult) bool {
	for _, r := range results {
		if r.Status == StatusBlocked {
			return true
		}
	}
	return false
}

func reviewRule(r *rules.Rule, ruleSet []rules.Rule, idx int) ReviewResult {
	res := ReviewResult{RuleID: r.ID, Status: StatusOK}

	// Path shape is classified before Rule.Validate so a malformed path
	// yields its specific code rather than the generic config one.
	pathIssues := checkPaths(r)
	res.Issues = append(res.Issues, pathIssues...)
	if len(pathIssues) == 0 {
		if err := r.Validate(); err != nil {
			res.Issues = append(res.Issues, Issue{
				Code:     CodeRuleConfigInvalid,
				Severity: rules.SeverityError,
				Message:  err.Error(),
			})
		}
	}

	res.Issues = append(res.Issues, checkDuplicates(r, ruleSet, idx)...)
	res.Issues = append(res.Issues, checkBreadth(r)...)

	for _, issue := range res.Issues {
		if issue.Severity == rules.SeverityError {
			res.Status = StatusBlocked
			return res
		}
	}
	if len(res.Issues) > 0 {
		res.Status = StatusWarning
	}
	return res
}

func checkPaths(r *rules.Rule) []Issue {
	var issues []Issue
	for _, p := range reviewablePaths(r) {
		if p == "" {
			continue
		}
		if issue := classifyPath(p); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues
}

func reviewablePaths(r *rules.Rule) []string {
	paths := []string{r.FieldPath, r.Params.AnswerPath, r.Params.IterationPath}
	if r.Scope.Filter != nil {
		paths = append(paths, r.Scope.Filter.FieldPath)
	}
	return paths
}

var concreteIndexMarker = regexp.MustCompile(`\[\d+\]`)

func classifyPath(p string) *Issue {
	switch {
	case strings.Contains(p, "where("):
		return &Issue{
			Code:     CodePathEmbeddedFilter,
			Severity: rules.SeverityError,
			Message:  fmt.Sprintf("path %q embeds a where clause; express the condition as a scope filter", p),
		}
	case concreteIndexMarker.MatchString(p):
		return &Issue{
			Code:     CodePathConcreteIndex,
			Severity: rules.SeverityError,
			Message:  fmt.Sprintf("path %q pins a concrete index; use an instance scope", p),
		}
	case leadingResourcePrefix(p):
		return &Issue{
			Code:     CodePathResourcePrefix,
			Severity: rules.SeverityError,
			Message:  fmt.Sprintf("path %q carries a resource-type prefix; stored paths are resource-relative", p),
		}
	}
	return nil
}

func leadingResourcePrefix(p string) bool {
	if p == "" {
		return false
	}
	c := p[0]
	return c >= 'A' && c <= 'Z'
}

func checkDuplicates(r *rules.Rule, ruleSet []rules.Rule, idx int) []Issue {
	for j := range ruleSet {
		if j == idx {
			continue
		}
		other := &ruleSet[j]
		if other.ResourceType == r.ResourceType &&
			other.Type == r.Type &&
			other.FieldPath == r.FieldPath {
			return []Issue{{
				Code:     CodeDuplicateRule,
				Severity: rules.SeverityWarning,
				Message:  fmt.Sprintf("another %s rule already targets %s.%s", r.Type, r.ResourceType, r.FieldPath),
			}}
		}
	}
	return nil
}

func checkBreadth(r *rules.Rule) []Issue {
	var issues []Issue
	if strings.Count(r.FieldPath, "[*]") >= 2 {
		issues = append(issues, Issue{
			Code:     CodeBroadWildcardScope,
			Severity: rules.SeverityWarning,
			Message:  fmt.Sprintf("path %q wildcards more than one collection; findings may be noisy", r.FieldPath),
		})
	}
	if r.Type == rules.TypeRegex && permissivePattern(r.Params.Pattern) {
		issues = append(issues, Issue{
			Code:     CodePermissivePattern,
			Severity: rules.SeverityWarning,
			Message:  fmt.Sprintf("pattern %q matches everything", r.Params.Pattern),
		})
	}
	if r.Type == rules.TypeResourceComposition {
		for _, req := range r.Params.Requirements {
			if req.Min == 0 && req.Max == nil {
				issues = append(issues, Issue{
					Code:     CodeUnboundedComposition,
					Severity: rules.SeverityWarning,
					Message:  fmt.Sprintf("requirement for %s has no lower or upper bound", req.ResourceType),
				})
			}
		}
	}
	return issues
}

var permissivePatterns = map[string]bool{
	".*":   true,
	".+":   true,
	"^.*$": true,
	"^.+$": true,
}

func permissivePattern(p string) bool {
	return permissivePatterns[p]
}
