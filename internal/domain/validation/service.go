package validation

import (
	"context"
	"fmt"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// Service runs the full pipeline: structural, business, terminology,
// reference, then the advisory lint and spec-hint layers, in that fixed
// order. Layer order determines finding order in the report, nothing else;
// layers do not see each other's findings.
type Service struct {
	structural  *StructuralLayer
	reference   *ReferenceLayer
	terminology *TerminologyLayer
	lint        *LintLayer
	hints       *SpecHintLayer
	evaluator   *rules.Evaluator
}

func NewService(codes CodeSystemIndex, schemas *fhir.SchemaRegistry, answerSets rules.AnswerSetIndex) *Service {
	return &Service{
		structural:  NewStructuralLayer(),
		reference:   NewReferenceLayer(),
		terminology: NewTerminologyLayer(codes),
		lint:        NewLintLayer(),
		hints:       NewSpecHintLayer(schemas),
		evaluator:   rules.NewEvaluator(answerSets),
	}
}

// Validate runs every layer over the record with the given business rule
// set and aggregates the findings. A malformed rule aborts the run with an
// error; it never degrades into findings.
func (s *Service) Validate(ctx context.Context, rec *fhir.Record, ruleSet []rules.Rule) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var findings []rules.Finding
	findings = append(findings, s.structural.Check(rec)...)

	business, err := s.evaluator.EvaluateRuleSet(ruleSet, rec)
	if err != nil {
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}
	findings = append(findings, business...)

	findings = append(findings, s.terminology.Check(rec)...)
	findings = append(findings, s.reference.Check(rec)...)
	findings = append(findings, s.lint.Check(rec)...)
	findings = append(findings, s.hints.Check(rec)...)

	return Aggregate(findings), nil
}
