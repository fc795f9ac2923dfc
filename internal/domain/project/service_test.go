package project

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/pkg/pagination"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	projects map[uuid.UUID]*Project
	ruleSets map[uuid.UUID][]rules.Rule
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		projects: make(map[uuid.UUID]*Project),
		ruleSets: make(map[uuid.UUID][]rules.Rule),
	}
}

func (f *fakeRepo) CreateProject(_ context.Context, p *Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.projects[p.ID] = p
	return nil
}

func (f *fakeRepo) GetProject(_ context.Context, id uuid.UUID) (*Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListProjects(_ context.Context, page pagination.Params) ([]*Project, int, error) {
	var out []*Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	total := len(out)
	if page.Offset >= total {
		return nil, total, nil
	}
	end := page.Offset + page.Limit
	if end > total {
		end = total
	}
	return out[page.Offset:end], total, nil
}

func (f *fakeRepo) DeleteProject(_ context.Context, id uuid.UUID) error {
	if _, ok := f.projects[id]; !ok {
		return ErrNotFound
	}
	delete(f.projects, id)
	delete(f.ruleSets, id)
	return nil
}

func (f *fakeRepo) GetRules(_ context.Context, projectID uuid.UUID) ([]rules.Rule, error) {
	return f.ruleSets[projectID], nil
}

func (f *fakeRepo) ReplaceRules(_ context.Context, projectID uuid.UUID, ruleSet []rules.Rule) error {
	f.ruleSets[projectID] = ruleSet
	return nil
}

func seedProject(t *testing.T, repo *fakeRepo) *Project {
	t.Helper()
	p := &Project{Name: "intake", ResourceType: "Patient"}
	if err := repo.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func validRule(fieldPath string) rules.Rule {
	return rules.Rule{
		ID:           uuid.New(),
		ResourceType: "Patient",
		Scope:        rules.InstanceScope{Kind: rules.ScopeAll},
		Type:         rules.TypeRequired,
		FieldPath:    fieldPath,
		Severity:     rules.SeverityError,
		Enabled:      true,
	}
}

func TestCreateProject_RequiresName(t *testing.T) {
	svc := NewService(newFakeRepo())
	if err := svc.CreateProject(context.Background(), &Project{ResourceType: "Patient"}); err == nil {
		t.Error("expected error for empty project name")
	}
}

func TestSaveRules_CleanBatchSaved(t *testing.T) {
	repo := newFakeRepo()
	p := seedProject(t, repo)
	svc := NewService(repo)

	batch := []rules.Rule{validRule("birthDate"), validRule("gender"), validRule("name")}
	res, err := svc.SaveRules(context.Background(), p.ID, batch)
	if err != nil {
		t.Fatalf("SaveRules: %v", err)
	}
	if !res.Saved || len(res.Results) != 3 {
		t.Errorf("result = %+v, want saved with 3 reviews", res)
	}

	stored, err := svc.RulesForProject(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("RulesForProject: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d rules, want 3", len(stored))
	}
	for i := range batch {
		if stored[i].ID != batch[i].ID {
			t.Errorf("stored[%d].ID = %s, want %s; save must preserve order", i, stored[i].ID, batch[i].ID)
		}
	}
}

func TestSaveRules_BlockedBatchRefused(t *testing.T) {
	repo := newFakeRepo()
	p := seedProject(t, repo)
	svc := NewService(repo)

	bad := validRule("identifier[2].value")
	batch := []rules.Rule{validRule("birthDate"), bad}

	res, err := svc.SaveRules(context.Background(), p.ID, batch)
	if !errors.Is(err, ErrRuleSetBlocked) {
		t.Fatalf("expected ErrRuleSetBlocked, got %v", err)
	}
	if res == nil || res.Saved {
		t.Fatalf("result = %+v, want unsaved result with the review", res)
	}
	if len(res.Results) != 2 {
		t.Errorf("reviews = %d, want one per rule", len(res.Results))
	}

	// A single blocked rule refuses the whole batch; the clean rule must
	// not be saved either.
	if stored := repo.ruleSets[p.ID]; len(stored) != 0 {
		t.Errorf("blocked batch must save nothing, found %d rules", len(stored))
	}
}

func TestSaveRules_UnknownProject(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.SaveRules(context.Background(), uuid.New(), []rules.Rule{validRule("birthDate")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRules_ReplacesExistingSet(t *testing.T) {
	repo := newFakeRepo()
	p := seedProject(t, repo)
	svc := NewService(repo)

	if _, err := svc.SaveRules(context.Background(), p.ID, []rules.Rule{validRule("birthDate")}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	next := []rules.Rule{validRule("gender")}
	if _, err := svc.SaveRules(context.Background(), p.ID, next); err != nil {
		t.Fatalf("second save: %v", err)
	}

	stored, _ := svc.RulesForProject(context.Background(), p.ID)
	if len(stored) != 1 || stored[0].ID != next[0].ID {
		t.Errorf("stored = %+v, want the replacement set only", stored)
	}
}

func TestRulesForProject_UnknownProject(t *testing.T) {
	svc := NewService(newFakeRepo())
	if _, err := svc.RulesForProject(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
