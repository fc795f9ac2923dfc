// Package rules implements the declarative business-rule engine: the rule
// model, the path normalizer and matcher, instance scope resolution, and the
// typed rule evaluator. Everything here is a pure computation over immutable
// inputs; persistence and transport belong to the calling packages.
package rules

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Severity of a rule or finding.
type Severity string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
)

// IsValidSeverity reports whether s is one of the three severities.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInformation:
		return true
	}
	return false
}

// Source tags which validation layer produced a finding.
type Source string

const (
	SourceStructural  Source = "structural"
	SourceBusiness    Source = "business"
	SourceTerminology Source = "terminology"
	SourceReference   Source = "reference"
	SourceLint        Source = "lint"
	SourceSpecHint    Source = "spec-hint"
)

// RuleType discriminates the nine rule variants. Adding a variant requires
// extending the evaluator switch and the error-code tables below.
type RuleType string

const (
	TypeRequired            RuleType = "required"
	TypeFixedValue          RuleType = "fixed-value"
	TypeAllowedValues       RuleType = "allowed-values"
	TypeRegex               RuleType = "regex"
	TypeArrayLength         RuleType = "array-length"
	TypeCodeSystem          RuleType = "code-system"
	TypeCustomExpression    RuleType = "custom-expression"
	TypeResourceComposition RuleType = "resource-composition"
	TypeQuestionAnswer      RuleType = "question-answer"
)

// Error codes emitted by the evaluator. Every rule type except
// custom-expression and question-answer has exactly one fixed code.
const (
	CodeFieldRequired                = "FIELD_REQUIRED"
	CodeFixedValueMismatch           = "FIXED_VALUE_MISMATCH"
	CodeValueNotAllowed              = "VALUE_NOT_ALLOWED"
	CodePatternMismatch              = "PATTERN_MISMATCH"
	CodeArrayLengthViolation         = "ARRAY_LENGTH_VIOLATION"
	CodeInvalidCode                  = "INVALID_CODE"
	CodeResourceRequirementViolation = "RESOURCE_REQUIREMENT_VIOLATION"
)

// fixedErrorCodes maps each fixed-code rule type to its mandatory code.
var fixedErrorCodes = map[RuleType]string{
	TypeRequired:            CodeFieldRequired,
	TypeFixedValue:          CodeFixedValueMismatch,
	TypeAllowedValues:       CodeValueNotAllowed,
	TypeRegex:               CodePatternMismatch,
	TypeArrayLength:         CodeArrayLengthViolation,
	TypeCodeSystem:          CodeInvalidCode,
	TypeResourceComposition: CodeResourceRequirementViolation,
}

// customExpressionCodes is the closed vocabulary an author may pick from for
// a custom-expression rule. Free-form codes are rejected at authoring time.
var customExpressionCodes = map[string]bool{
	"EXPRESSION_FAILED":               true,
	"CLINICAL_CONSTRAINT_VIOLATED":    true,
	"CROSS_FIELD_CONSTRAINT_VIOLATED": true,
	"TEMPORAL_CONSTRAINT_VIOLATED":    true,
}

// CustomExpressionCodes returns the governed vocabulary in a copy the caller
// may keep.
func CustomExpressionCodes() []string {
	codes := make([]string, 0, len(customExpressionCodes))
	for c := range customExpressionCodes {
		codes = append(codes, c)
	}
	return codes
}

// ConstraintKind names the question-answer constraint to enforce.
type ConstraintKind string

const (
	ConstraintRequired       ConstraintKind = "required"
	ConstraintAllowedOptions ConstraintKind = "allowed-options"
	ConstraintNumericRange   ConstraintKind = "numeric-range"
	ConstraintMaxLength      ConstraintKind = "max-length"
)

// constraintErrorCodes maps each question-answer constraint to its code.
var constraintErrorCodes = map[ConstraintKind]string{
	ConstraintRequired:       "ANSWER_REQUIRED",
	ConstraintAllowedOptions: "ANSWER_NOT_ALLOWED",
	ConstraintNumericRange:   "ANSWER_OUT_OF_RANGE",
	ConstraintMaxLength:      "ANSWER_TOO_LONG",
}

// AttributeFilter narrows a composition requirement to instances whose field
// equals a literal.
type AttributeFilter struct {
	FieldPath string      `json:"fieldPath"`
	Value     interface{} `json:"value"`
}

// CompositionRequirement declares how many instances of a resource type a
// record must contain.
type CompositionRequirement struct {
	ResourceType string            `json:"resourceType"`
	Min          int               `json:"min"`
	Max          *int              `json:"max,omitempty"`
	Where        []AttributeFilter `json:"where,omitempty"`
}

// RuleParams carries the type-specific configuration of a rule. Only the
// fields for the declared RuleType are meaningful; Validate rejects rules
// whose required params are absent.
type RuleParams struct {
	// fixed-value
	Value interface{} `json:"value,omitempty"`
	// allowed-values
	Allowed []interface{} `json:"allowed,omitempty"`
	// regex
	Pattern    string `json:"pattern,omitempty"`
	Negate     bool   `json:"negate,omitempty"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
	// array-length
	MinItems *int `json:"minItems,omitempty"`
	MaxItems *int `json:"maxItems,omitempty"`
	// code-system
	System string   `json:"system,omitempty"`
	Codes  []string `json:"codes,omitempty"`
	// custom-expression
	Expression string `json:"expression,omitempty"`
	// resource-composition
	Requirements     []CompositionRequirement `json:"requirements,omitempty"`
	RejectUndeclared bool                     `json:"rejectUndeclared,omitempty"`
	// question-answer
	AnswerPath    string         `json:"answerPath,omitempty"`
	IterationPath string         `json:"iterationPath,omitempty"`
	Constraint    ConstraintKind `json:"constraint,omitempty"`
	AnswerSetID   string         `json:"answerSetId,omitempty"`
}

// Rule is one declarative business rule. FieldPath is stored in canonical
// form: no resource-type prefix, no concrete index, no embedded where
// clause; those concerns are modeled structurally via Scope and Params.
type Rule struct {
	ID           uuid.UUID     `json:"id"`
	ResourceType string        `json:"resourceType"`
	Scope        InstanceScope `json:"scope"`
	Type         RuleType      `json:"type"`
	FieldPath    string        `json:"fieldPath,omitempty"`
	Params       RuleParams    `json:"params"`
	Severity     Severity      `json:"severity"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	Hint         string        `json:"hint,omitempty"`
	Enabled      bool          `json:"enabled"`
}

// ConfigError reports an invalid rule configuration. It is the typed failure
// for authoring-input errors; evaluation findings are data, never errors.
type ConfigError struct {
	RuleID uuid.UUID
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.RuleID == uuid.Nil {
		return fmt.Sprintf("invalid rule configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid rule configuration (rule %s): %s: %s", e.RuleID, e.Field, e.Reason)
}

func (r *Rule) configError(field, reason string) *ConfigError {
	return &ConfigError{RuleID: r.ID, Field: field, Reason: reason}
}

// fieldPathTypes are the rule types whose FieldPath is mandatory.
var fieldPathTypes = map[RuleType]bool{
	TypeRequired:      true,
	TypeFixedValue:    true,
	TypeAllowedValues: true,
	TypeRegex:         true,
	TypeArrayLength:   true,
	TypeCodeSystem:    true,
}

// Validate checks the rule configuration: a known type and severity, a
// canonical field path, and the params the declared type requires. It
// returns a *ConfigError describing the first problem found.
func (r *Rule) Validate() error {
	switch r.Type {
	case TypeRequired, TypeFixedValue, TypeAllowedValues, TypeRegex,
		TypeArrayLength, TypeCodeSystem, TypeCustomExpression,
		TypeResourceComposition, TypeQuestionAnswer:
	default:
		return r.configError("type", fmt.Sprintf("unknown rule type %q", r.Type))
	}
	if !IsValidSeverity(r.Severity) {
		return r.configError("severity", fmt.Sprintf("unknown severity %q", r.Severity))
	}
	if r.ResourceType == "" && r.Type != TypeResourceComposition {
		return r.configError("resourceType", "resource type is required")
	}
	if err := r.Scope.Validate(); err != nil {
		return &ConfigError{RuleID: r.ID, Field: "scope", Reason: err.Error()}
	}

	if fieldPathTypes[r.Type] {
		if r.FieldPath == "" {
			return r.configError("fieldPath", "field path is required")
		}
		if err := CheckStoredPath(r.FieldPath); err != nil {
			return &ConfigError{RuleID: r.ID, Field: "fieldPath", Reason: err.Error()}
		}
	}

	if err := r.validateParams(); err != nil {
		return err
	}
	return r.validateErrorCode()
}

func (r *Rule) validateParams() error {
	switch r.Type {
	case TypeRequired:
		// no params
	case TypeFixedValue:
		if r.Params.Value == nil {
			return r.configError("params.value", "fixed-value rule requires a literal value")
		}
	case TypeAllowedValues:
		if len(r.Params.Allowed) == 0 {
			return r.configError("params.allowed", "allowed-values rule requires a non-empty value set")
		}
	case TypeRegex:
		if r.Params.Pattern == "" {
			return r.configError("params.pattern", "regex rule requires a pattern")
		}
		if _, err := compilePattern(r.Params.Pattern, r.Params.IgnoreCase); err != nil {
			return r.configError("params.pattern", err.Error())
		}
	case TypeArrayLength:
		// A rule with neither bound would always pass; reject it at
		// authoring time rather than letting it reach evaluation.
		if r.Params.MinItems == nil && r.Params.MaxItems == nil {
			return r.configError("params", "array-length rule requires minItems and/or maxItems")
		}
		if r.Params.MinItems != nil && *r.Params.MinItems < 0 {
			return r.configError("params.minItems", "minItems must not be negative")
		}
		if r.Params.MinItems != nil && r.Params.MaxItems != nil && *r.Params.MinItems > *r.Params.MaxItems {
			return r.configError("params", "minItems exceeds maxItems")
		}
	case TypeCodeSystem:
		if r.Params.System == "" {
			return r.configError("params.system", "code-system rule requires a system URI")
		}
	case TypeCustomExpression:
		if r.Params.Expression == "" {
			return r.configError("params.expression", "custom-expression rule requires an expression")
		}
	case TypeResourceComposition:
		if len(r.Params.Requirements) == 0 && !r.Params.RejectUndeclared {
			return r.configError("params.requirements", "resource-composition rule requires at least one requirement or rejectUndeclared")
		}
		for i, req := range r.Params.Requirements {
			if req.ResourceType == "" {
				return r.configError(fmt.Sprintf("params.requirements[%d].resourceType", i), "resource type is required")
			}
			if req.Min < 0 {
				return r.configError(fmt.Sprintf("params.requirements[%d].min", i), "min must not be negative")
			}
			if req.Max != nil && *req.Max < req.Min {
				return r.configError(fmt.Sprintf("params.requirements[%d]", i), "max is below min")
			}
			for j, f := range req.Where {
				if err := CheckStoredPath(f.FieldPath); err != nil {
					return r.configError(fmt.Sprintf("params.requirements[%d].where[%d]", i, j), err.Error())
				}
			}
		}
	case TypeQuestionAnswer:
		if r.Params.AnswerPath == "" {
			return r.configError("params.answerPath", "question-answer rule requires an answer path")
		}
		if err := CheckStoredPath(r.Params.AnswerPath); err != nil {
			return r.configError("params.answerPath", err.Error())
		}
		if r.Params.IterationPath != "" {
			if err := CheckStoredPath(r.Params.IterationPath); err != nil {
				return r.configError("params.iterationPath", err.Error())
			}
		}
		if r.Params.AnswerSetID == "" {
			return r.configError("params.answerSetId", "question-answer rule requires an answer set reference")
		}
		if _, ok := constraintErrorCodes[r.Params.Constraint]; !ok {
			return r.configError("params.constraint", fmt.Sprintf("unknown constraint %q", r.Params.Constraint))
		}
	}
	return nil
}

func (r *Rule) validateErrorCode() error {
	switch r.Type {
	case TypeCustomExpression:
		if r.ErrorCode == "" {
			return r.configError("errorCode", "custom-expression rule requires an error code from the governed vocabulary")
		}
		if !customExpressionCodes[r.ErrorCode] {
			return r.configError("errorCode", fmt.Sprintf("%q is not in the governed vocabulary", r.ErrorCode))
		}
	case TypeQuestionAnswer:
		want := constraintErrorCodes[r.Params.Constraint]
		if r.ErrorCode != "" && r.ErrorCode != want {
			return r.configError("errorCode", fmt.Sprintf("question-answer %s constraint carries code %s", r.Params.Constraint, want))
		}
	default:
		want := fixedErrorCodes[r.Type]
		if r.ErrorCode != "" && r.ErrorCode != want {
			return r.configError("errorCode", fmt.Sprintf("%s rules carry the fixed code %s", r.Type, want))
		}
	}
	return nil
}

// EffectiveErrorCode resolves the code a failing evaluation will carry.
func (r *Rule) EffectiveErrorCode() string {
	switch r.Type {
	case TypeCustomExpression:
		return r.ErrorCode
	case TypeQuestionAnswer:
		return constraintErrorCodes[r.Params.Constraint]
	default:
		return fixedErrorCodes[r.Type]
	}
}

// compilePattern compiles a regex rule pattern, honoring the case flag.
func compilePattern(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

// Finding is the result of one failed check at one resolved location.
// Blocking is not stored here; the validation aggregator derives it from
// Source and Severity.
type Finding struct {
	Source   Source     `json:"source"`
	Severity Severity   `json:"severity"`
	Code     string     `json:"code"`
	Path     string     `json:"path"`
	Message  string     `json:"message"`
	RuleID   *uuid.UUID `json:"ruleId,omitempty"`
	Hint     string     `json:"hint,omitempty"`
}
