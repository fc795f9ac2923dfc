package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/pkg/pagination"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO projects (id, name, resource_type)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.ResourceType)
	return row.Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, resource_type, created_at, updated_at
		FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.ResourceType, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) ListProjects(ctx context.Context, page pagination.Params) ([]*Project, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, resource_type, created_at, updated_at
		FROM projects ORDER BY created_at
		LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.ResourceType, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		projects = append(projects, &p)
	}
	return projects, total, rows.Err()
}

func (r *repoPG) DeleteProject(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetRules(ctx context.Context, projectID uuid.UUID) ([]rules.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, resource_type, scope, rule_type, field_path, params,
			severity, error_code, hint, enabled
		FROM project_rules WHERE project_id = $1
		ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleSet []rules.Rule
	for rows.Next() {
		var (
			rl            rules.Rule
			scopeJSON     []byte
			paramsJSON    []byte
			severity, typ string
		)
		if err := rows.Scan(&rl.ID, &rl.ResourceType, &scopeJSON, &typ, &rl.FieldPath,
			&paramsJSON, &severity, &rl.ErrorCode, &rl.Hint, &rl.Enabled); err != nil {
			return nil, err
		}
		rl.Type = rules.RuleType(typ)
		rl.Severity = rules.Severity(severity)
		if err := json.Unmarshal(scopeJSON, &rl.Scope); err != nil {
			return nil, fmt.Errorf("decode scope for rule %s: %w", rl.ID, err)
		}
		if err := json.Unmarshal(paramsJSON, &rl.Params); err != nil {
			return nil, fmt.Errorf("decode params for rule %s: %w", rl.ID, err)
		}
		ruleSet = append(ruleSet, rl)
	}
	return ruleSet, rows.Err()
}

// ReplaceRules swaps the whole rule set in one transaction, preserving the
// order of the slice as the stored position.
func (r *repoPG) ReplaceRules(ctx context.Context, projectID uuid.UUID, ruleSet []rules.Rule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM project_rules WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	for i := range ruleSet {
		rl := &ruleSet[i]
		if rl.ID == uuid.Nil {
			rl.ID = uuid.New()
		}
		scopeJSON, err := json.Marshal(rl.Scope)
		if err != nil {
			return fmt.Errorf("encode scope for rule %s: %w", rl.ID, err)
		}
		paramsJSON, err := json.Marshal(rl.Params)
		if err != nil {
			return fmt.Errorf("encode params for rule %s: %w", rl.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO project_rules (id, project_id, position, resource_type, scope,
				rule_type, field_path, params, severity, error_code, hint, enabled)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			rl.ID, projectID, i, rl.ResourceType, scopeJSON,
			string(rl.Type), rl.FieldPath, paramsJSON,
			string(rl.Severity), rl.ErrorCode, rl.Hint, rl.Enabled); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET updated_at = NOW() WHERE id = $1`, projectID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
