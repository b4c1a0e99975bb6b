package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/trackon/budgetd/internal/ledger"
)

type stubStore struct {
	projects map[string]ledger.Project
	current  string
	nextID   int
}

func newStubStore(projects ...ledger.Project) *stubStore {
	s := &stubStore{projects: make(map[string]ledger.Project)}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *stubStore) GetProject(ctx context.Context, id string) (ledger.Project, bool, error) {
	p, ok := s.projects[id]
	return p, ok, nil
}

func (s *stubStore) ListProjects(ctx context.Context) ([]ledger.Project, error) {
	out := make([]ledger.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubStore) CreateProject(ctx context.Context, name string, budgetLimit float64, description *string) (ledger.Project, error) {
	s.nextID++
	p := ledger.Project{
		ID:          fmt.Sprintf("project_%012d", s.nextID),
		Name:        name,
		BudgetLimit: budgetLimit,
		Status:      ledger.StatusActive,
	}
	s.projects[p.ID] = p
	return p, nil
}

func (s *stubStore) CurrentProjectID(ctx context.Context) (string, bool, error) {
	return s.current, s.current != "", nil
}

func (s *stubStore) SetCurrentProject(ctx context.Context, id string) error {
	s.current = id
	return nil
}

func TestResolveExplicitIDWins(t *testing.T) {
	st := newStubStore(
		ledger.Project{ID: "project_aaa", Name: "Website"},
		ledger.Project{ID: "project_bbb", Name: "Mobile App Development"},
	)
	r := New(st, nil)

	// The explicit id overrides a conflicting extracted name.
	p, err := r.Resolve(context.Background(), "project_aaa", "Mobile App Development", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "project_aaa" {
		t.Fatalf("resolved %q, want project_aaa", p.ID)
	}
}

func TestResolveMissingExplicitIDFallsBack(t *testing.T) {
	st := newStubStore(ledger.Project{ID: "project_bbb", Name: "Mobile App Development"})
	r := New(st, nil)

	p, err := r.Resolve(context.Background(), "project_gone", "Mobile App Development", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "project_bbb" {
		t.Fatalf("resolved %q, want fallback to the named project", p.ID)
	}
}

func TestResolveSubstringName(t *testing.T) {
	st := newStubStore(
		ledger.Project{ID: "project_bbb", Name: "Mobile App Development"},
		ledger.Project{ID: "project_ccc", Name: "Website"},
	)
	r := New(st, nil)

	p, err := r.Resolve(context.Background(), "", "Mobile App", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "project_bbb" {
		t.Fatalf("resolved %q, want Mobile App Development via containment", p.ID)
	}
}

func TestResolveUnknownNameCreates(t *testing.T) {
	st := newStubStore()
	r := New(st, nil)

	p, err := r.Resolve(context.Background(), "", "Marketing", 7500)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != "Marketing" || p.BudgetLimit != 7500 {
		t.Fatalf("created project = %+v", p)
	}
	if st.current != p.ID {
		t.Fatalf("current = %q, want the created project to become current", st.current)
	}
}

func TestResolveCurrentPointer(t *testing.T) {
	st := newStubStore(ledger.Project{ID: "project_cur", Name: "Ops"})
	st.current = "project_cur"
	r := New(st, nil)

	p, err := r.Resolve(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "project_cur" {
		t.Fatalf("resolved %q, want the current project", p.ID)
	}
}

func TestResolveNothingCreatesDefault(t *testing.T) {
	st := newStubStore()
	r := New(st, nil)

	p, err := r.Resolve(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != DefaultProjectName {
		t.Fatalf("created %q, want %q", p.Name, DefaultProjectName)
	}
	if st.current != p.ID {
		t.Fatal("default project should become current")
	}
}

func TestMatchName(t *testing.T) {
	projects := []ledger.Project{
		{ID: "a", Name: "Website Redesign"},
		{ID: "b", Name: "Mobile App Development"},
		{ID: "c", Name: "API Project"},
	}
	cases := []struct {
		query  string
		wantID string
		found  bool
	}{
		{"mobile app development", "b", true},
		{"API", "c", true},
		{"api project", "c", true},
		{"Mobile App", "b", true},
		{"Website Redesign Project", "a", true},
		{"Payroll", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		p, ok := MatchName(projects, tc.query)
		if ok != tc.found || (ok && p.ID != tc.wantID) {
			t.Fatalf("MatchName(%q) = (%q, %v), want (%q, %v)", tc.query, p.ID, ok, tc.wantID, tc.found)
		}
	}
}
