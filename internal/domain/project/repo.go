package project

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/pkg/pagination"
)

// ErrNotFound is returned for a project id that does not exist.
var ErrNotFound = errors.New("project not found")

// Repository stores projects and their rule sets. Rule order is part of the
// stored state: GetRules returns rules in the order they were saved, and
// ReplaceRules persists the given order atomically.
type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ListProjects(ctx context.Context, page pagination.Params) ([]*Project, int, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error

	GetRules(ctx context.Context, projectID uuid.UUID) ([]rules.Rule, error)
	ReplaceRules(ctx context.Context, projectID uuid.UUID, ruleSet []rules.Rule) error
}
