package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/governance"
	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/pkg/pagination"
)

// ErrRuleSetBlocked signals that the governance gate refused the batch.
// The SaveResult alongside it carries the per-rule review.
var ErrRuleSetBlocked = errors.New("rule set blocked by governance review")

// SaveResult reports a save attempt. Results always holds the full review,
// whether or not the batch was saved.
type SaveResult struct {
	Saved   bool                      `json:"saved"`
	Results []governance.ReviewResult `json:"results"`
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateProject(ctx context.Context, p *Project) error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	return s.repo.CreateProject(ctx, p)
}

func (s *Service) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	return s.repo.GetProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context, page pagination.Params) ([]*Project, int, error) {
	return s.repo.ListProjects(ctx, page)
}

func (s *Service) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteProject(ctx, id)
}

// SaveRules runs the governance review over the candidate batch and
// persists it only when no rule is blocked. A single blocked rule refuses
// the whole batch; nothing is partially saved.
func (s *Service) SaveRules(ctx context.Context, projectID uuid.UUID, ruleSet []rules.Rule) (*SaveResult, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	results := governance.Review(ruleSet)
	if governance.HasBlocked(results) {
		return &SaveResult{Saved: false, Results: results}, ErrRuleSetBlocked
	}

	if err := s.repo.ReplaceRules(ctx, projectID, ruleSet); err != nil {
		return nil, fmt.Errorf("replace rules: %w", err)
	}
	return &SaveResult{Saved: true, Results: results}, nil
}

// RulesForProject returns the saved rule set in stored order. It satisfies
// the validation handler's RuleSource.
func (s *Service) RulesForProject(ctx context.Context, projectID uuid.UUID) ([]rules.Rule, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.GetRules(ctx, projectID)
}
