package rules

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// Evaluator executes business rules against a record. It holds only
// immutable collaborators and is safe for concurrent use.
type Evaluator struct {
	expr       *fhir.PathEngine
	answerSets AnswerSetIndex
}

// NewEvaluator creates an evaluator. answerSets may be nil when the rule set
// carries no question-answer rules.
func NewEvaluator(answerSets AnswerSetIndex) *Evaluator {
	return &Evaluator{expr: fhir.NewPathEngine(), answerSets: answerSets}
}

// EvaluateRuleSet runs every enabled rule in set order and returns the
// business findings in evaluation order. It fails fast with a *ConfigError
// on the first malformed rule, before producing any findings.
func (e *Evaluator) EvaluateRuleSet(ruleSet []Rule, rec *fhir.Record) ([]Finding, error) {
	for i := range ruleSet {
		if err := ruleSet[i].Validate(); err != nil {
			return nil, err
		}
	}
	var findings []Finding
	for i := range ruleSet {
		if !ruleSet[i].Enabled {
			continue
		}
		fs, err := e.EvaluateRule(&ruleSet[i], rec)
		if err != nil {
			return nil, err
		}
		findings = append(findings, fs...)
	}
	return findings, nil
}

// EvaluateRule runs one rule. Multi-location scopes produce one independent
// finding per failing location; resource-composition evaluates once at
// record scope.
func (e *Evaluator) EvaluateRule(r *Rule, rec *fhir.Record) ([]Finding, error) {
	if r.Type == TypeResourceComposition {
		return e.evalComposition(r, rec), nil
	}
	locations, err := ResolveScope(r.Scope, rec.InstancesOf(r.ResourceType))
	if err != nil {
		if cfg, ok := err.(*ConfigError); ok && cfg.RuleID == uuid.Nil {
			cfg.RuleID = r.ID
		}
		return nil, err
	}
	var findings []Finding
	for _, loc := range locations {
		f, err := e.evalAtLocation(r, loc)
		if err != nil {
			return nil, err
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

// evalAtLocation dispatches on the rule type. The switch is exhaustive over
// the per-location types; a new RuleType must be added here explicitly.
func (e *Evaluator) evalAtLocation(r *Rule, loc Location) (*Finding, error) {
	switch r.Type {
	case TypeRequired:
		return e.evalRequired(r, loc), nil
	case TypeFixedValue:
		return e.evalFixedValue(r, loc), nil
	case TypeAllowedValues:
		return e.evalAllowedValues(r, loc), nil
	case TypeRegex:
		return e.evalRegex(r, loc)
	case TypeArrayLength:
		return e.evalArrayLength(r, loc), nil
	case TypeCodeSystem:
		return e.evalCodeSystem(r, loc), nil
	case TypeCustomExpression:
		return e.evalCustomExpression(r, loc)
	case TypeQuestionAnswer:
		return e.evalQuestionAnswer(r, loc)
	default:
		return nil, &ConfigError{RuleID: r.ID, Field: "type", Reason: fmt.Sprintf("unknown rule type %q", r.Type)}
	}
}

func (e *Evaluator) fail(r *Rule, path, message string) *Finding {
	id := r.ID
	return &Finding{
		Source:   SourceBusiness,
		Severity: r.Severity,
		Code:     r.EffectiveErrorCode(),
		Path:     path,
		Message:  message,
		RuleID:   &id,
		Hint:     r.Hint,
	}
}

func fieldLocation(loc Location, fieldPath string) string {
	return loc.Path + "." + fieldPath
}

func (e *Evaluator) evalRequired(r *Rule, loc Location) *Finding {
	values := ExtractValues(loc.Resource, r.FieldPath)
	if ValuePresent(values) {
		return nil
	}
	return e.fail(r, fieldLocation(loc, r.FieldPath),
		fmt.Sprintf("%s is required but missing or empty", r.FieldPath))
}

func (e *Evaluator) evalFixedValue(r *Rule, loc Location) *Finding {
	values := ExtractValues(loc.Resource, r.FieldPath)
	if len(values) == 0 {
		return e.fail(r, fieldLocation(loc, r.FieldPath),
			fmt.Sprintf("%s must equal %v but is absent", r.FieldPath, r.Params.Value))
	}
	for _, v := range values {
		if !literalEquals(v, r.Params.Value) {
			return e.fail(r, fieldLocation(loc, r.FieldPath),
				fmt.Sprintf("%s must equal %v, found %v", r.FieldPath, r.Params.Value, v))
		}
	}
	return nil
}

func (e *Evaluator) evalAllowedValues(r *Rule, loc Location) *Finding {
	values := ExtractValues(loc.Resource, r.FieldPath)
	for _, v := range values {
		allowed := false
		for _, a := range r.Params.Allowed {
			if literalEquals(v, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return e.fail(r, fieldLocation(loc, r.FieldPath),
				fmt.Sprintf("%s value %v is not in the allowed set", r.FieldPath, v))
		}
	}
	return nil
}

func (e *Evaluator) evalRegex(r *Rule, loc Location) (*Finding, error) {
	re, err := compilePattern(r.Params.Pattern, r.Params.IgnoreCase)
	if err != nil {
		return nil, &ConfigError{RuleID: r.ID, Field: "params.pattern", Reason: err.Error()}
	}
	for _, v := range ExtractValues(loc.Resource, r.FieldPath) {
		s, ok := v.(string)
		if !ok {
			continue
		}
		matched := re.MatchString(s)
		if r.Params.Negate {
			matched = !matched
		}
		if !matched {
			return e.fail(r, fieldLocation(loc, r.FieldPath),
				fmt.Sprintf("%s value %q does not satisfy the pattern", r.FieldPath, s)), nil
		}
	}
	return nil, nil
}

func (e *Evaluator) evalArrayLength(r *Rule, loc Location) *Finding {
	count := CountAt(loc.Resource, r.FieldPath)
	if r.Params.MinItems != nil && count < *r.Params.MinItems {
		return e.fail(r, fieldLocation(loc, r.FieldPath),
			fmt.Sprintf("%s has %d item(s), at least %d required", r.FieldPath, count, *r.Params.MinItems))
	}
	if r.Params.MaxItems != nil && count > *r.Params.MaxItems {
		return e.fail(r, fieldLocation(loc, r.FieldPath),
			fmt.Sprintf("%s has %d item(s), at most %d allowed", r.FieldPath, count, *r.Params.MaxItems))
	}
	return nil
}

func (e *Evaluator) evalCodeSystem(r *Rule, loc Location) *Finding {
	for _, v := range ExtractValues(loc.Resource, r.FieldPath) {
		var system, code string
		switch typed := v.(type) {
		case map[string]interface{}:
			system, _ = typed["system"].(string)
			code, _ = typed["code"].(string)
		case string:
			code = typed
		default:
			continue
		}
		if system != "" && system != r.Params.System {
			return e.fail(r, fieldLocation(loc, r.FieldPath),
				fmt.Sprintf("coding system %q does not match required system %q", system, r.Params.System))
		}
		if len(r.Params.Codes) > 0 && code != "" {
			found := false
			for _, c := range r.Params.Codes {
				if c == code {
					found = true
					break
				}
			}
			if !found {
				return e.fail(r, fieldLocation(loc, r.FieldPath),
					fmt.Sprintf("code %q is not in the configured subset of %s", code, r.Params.System))
			}
		}
	}
	return nil
}

func (e *Evaluator) evalCustomExpression(r *Rule, loc Location) (*Finding, error) {
	ok, err := e.expr.EvaluateBool(loc.Resource, r.Params.Expression)
	if err != nil {
		return nil, &ConfigError{RuleID: r.ID, Field: "params.expression", Reason: err.Error()}
	}
	if ok {
		return nil, nil
	}
	msg := r.Hint
	if msg == "" {
		msg = fmt.Sprintf("expression %q evaluated to false", r.Params.Expression)
	}
	return e.fail(r, loc.Path, msg), nil
}

func (e *Evaluator) evalQuestionAnswer(r *Rule, loc Location) (*Finding, error) {
	if e.answerSets == nil {
		return nil, &ConfigError{RuleID: r.ID, Field: "params.answerSetId", Reason: "no answer sets available"}
	}
	answerSet, ok := e.answerSets.AnswerSet(r.Params.AnswerSetID)
	if !ok {
		return nil, &ConfigError{RuleID: r.ID, Field: "params.answerSetId",
			Reason: fmt.Sprintf("answer set %q not found", r.Params.AnswerSetID)}
	}

	items := []interface{}{loc.Resource}
	itemPath := loc.Path
	if r.Params.IterationPath != "" {
		items = ExtractValues(loc.Resource, r.Params.IterationPath)
		itemPath = fieldLocation(loc, r.Params.IterationPath)
	}

	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		linkID, _ := m["linkId"].(string)
		question, ok := answerSet.Question(linkID)
		if !ok {
			continue
		}
		answers := ExtractValues(m, r.Params.AnswerPath)
		if f := e.checkConstraint(r, question, answers, itemPath); f != nil {
			return f, nil
		}
	}
	return nil, nil
}

// checkConstraint applies one named constraint against the answers for one
// question. It returns at most one finding, so a location fails a
// question-answer rule once even when several items violate it.
func (e *Evaluator) checkConstraint(r *Rule, q *Question, answers []interface{}, path string) *Finding {
	switch r.Params.Constraint {
	case ConstraintRequired:
		if q.Required && !ValuePresent(answers) {
			return e.fail(r, path, fmt.Sprintf("question %q requires an answer", q.LinkID))
		}
	case ConstraintAllowedOptions:
		for _, a := range answers {
			s := fmt.Sprintf("%v", a)
			found := false
			for _, opt := range q.Options {
				if opt == s {
					found = true
					break
				}
			}
			if !found {
				return e.fail(r, path, fmt.Sprintf("answer %q for question %q is not an allowed option", s, q.LinkID))
			}
		}
	case ConstraintNumericRange:
		for _, a := range answers {
			n, ok := toFloat(a)
			if !ok {
				continue
			}
			if (q.Min != nil && n < *q.Min) || (q.Max != nil && n > *q.Max) {
				return e.fail(r, path, fmt.Sprintf("answer %v for question %q is out of range", a, q.LinkID))
			}
		}
	case ConstraintMaxLength:
		for _, a := range answers {
			s, ok := a.(string)
			if ok && q.MaxLength != nil && len(s) > *q.MaxLength {
				return e.fail(r, path, fmt.Sprintf("answer for question %q exceeds %d characters", q.LinkID, *q.MaxLength))
			}
		}
	}
	return nil
}

// evalComposition checks record-wide resource requirements. Counting and
// undeclared-type detection need the whole record, so this is the one rule
// type that does not iterate locations.
func (e *Evaluator) evalComposition(r *Rule, rec *fhir.Record) []Finding {
	var findings []Finding

	declared := make(map[string]bool, len(r.Params.Requirements))
	for _, req := range r.Params.Requirements {
		declared[req.ResourceType] = true
		count := 0
		for _, inst := range rec.InstancesOf(req.ResourceType) {
			if matchesAttributes(inst.Resource, req.Where) {
				count++
			}
		}
		if count < req.Min {
			findings = append(findings, *e.fail(r, req.ResourceType,
				fmt.Sprintf("record has %d %s instance(s)%s, at least %d required",
					count, req.ResourceType, whereSuffix(req.Where), req.Min)))
			continue
		}
		if req.Max != nil && count > *req.Max {
			findings = append(findings, *e.fail(r, req.ResourceType,
				fmt.Sprintf("record has %d %s instance(s)%s, at most %d allowed",
					count, req.ResourceType, whereSuffix(req.Where), *req.Max)))
		}
	}

	if r.Params.RejectUndeclared {
		for _, inst := range rec.All() {
			if !declared[inst.ResourceType] {
				findings = append(findings, *e.fail(r, inst.Location(),
					fmt.Sprintf("resource type %s is not declared in the composition", inst.ResourceType)))
			}
		}
	}
	return findings
}

func matchesAttributes(resource map[string]interface{}, filters []AttributeFilter) bool {
	for _, f := range filters {
		matched := false
		for _, v := range ExtractValues(resource, f.FieldPath) {
			if literalEquals(v, f.Value) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func whereSuffix(filters []AttributeFilter) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s=%v", f.FieldPath, f.Value)
	}
	return " matching " + strings.Join(parts, ", ")
}
