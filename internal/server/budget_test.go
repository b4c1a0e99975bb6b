package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/trackon/budgetd/internal/analysis"
	"github.com/trackon/budgetd/internal/ledger"
	"github.com/trackon/budgetd/internal/store"
	"github.com/trackon/budgetd/internal/tracker"
)

// memBackend is an in-memory Backend for handler tests.
type memBackend struct {
	projects map[string]*ledger.Project
	cache    map[string]analysis.Result
	current  string
	nextID   int
	pingErr  error
}

func newMemBackend() *memBackend {
	return &memBackend{
		projects: make(map[string]*ledger.Project),
		cache:    make(map[string]analysis.Result),
	}
}

func (m *memBackend) Ping(ctx context.Context) error { return m.pingErr }

func (m *memBackend) GetProject(ctx context.Context, id string) (ledger.Project, bool, error) {
	p, ok := m.projects[id]
	if !ok {
		return ledger.Project{}, false, nil
	}
	return *p, true, nil
}

func (m *memBackend) ListProjects(ctx context.Context) ([]ledger.Project, error) {
	out := make([]ledger.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memBackend) CreateProject(ctx context.Context, name string, budgetLimit float64, description *string) (ledger.Project, error) {
	m.nextID++
	p := &ledger.Project{
		ID:          fmt.Sprintf("project_%012d", m.nextID),
		Name:        name,
		BudgetLimit: budgetLimit,
		Description: description,
		Status:      ledger.StatusActive,
	}
	m.projects[p.ID] = p
	return *p, nil
}

func (m *memBackend) CurrentProjectID(ctx context.Context) (string, bool, error) {
	return m.current, m.current != "", nil
}

func (m *memBackend) SetCurrentProject(ctx context.Context, id string) error {
	if _, ok := m.projects[id]; !ok {
		return store.ErrNotFound
	}
	m.current = id
	return nil
}

func (m *memBackend) AddSpend(ctx context.Context, id string, entry ledger.SpendEntry) (ledger.Project, error) {
	p := m.projects[id]
	p.Spent += entry.Amount
	p.History = append(p.History, entry)
	return *p, nil
}

func (m *memBackend) SetSpent(ctx context.Context, id string, value float64) (ledger.Project, error) {
	p := m.projects[id]
	p.Spent = value
	return *p, nil
}

func (m *memBackend) SetBudgetLimit(ctx context.Context, id string, value float64) (ledger.Project, error) {
	p := m.projects[id]
	p.BudgetLimit = value
	return *p, nil
}

func (m *memBackend) AppendHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error) {
	p := m.projects[id]
	p.History = append(p.History, entries...)
	return *p, nil
}

func (m *memBackend) ReplaceHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error) {
	p := m.projects[id]
	p.History = entries
	return *p, nil
}

func (m *memBackend) SaveProjectState(ctx context.Context, id string, budgetLimit, spent float64, history []ledger.SpendEntry) (ledger.Project, error) {
	p := m.projects[id]
	p.BudgetLimit = budgetLimit
	p.Spent = spent
	p.History = history
	return *p, nil
}

func (m *memBackend) GetCachedAnalysis(ctx context.Context, key string) (analysis.Result, bool, error) {
	res, ok := m.cache[key]
	return res, ok, nil
}

func (m *memBackend) PutCachedAnalysis(ctx context.Context, projectID, key string, res analysis.Result) error {
	m.cache[key] = res
	return nil
}

func (m *memBackend) UpdateProjectMeta(ctx context.Context, id string, name *string, budgetLimit *float64, description *string, status *ledger.Status) (ledger.Project, error) {
	p, ok := m.projects[id]
	if !ok {
		return ledger.Project{}, store.ErrNotFound
	}
	if name != nil {
		p.Name = *name
	}
	if budgetLimit != nil {
		p.BudgetLimit = *budgetLimit
	}
	if description != nil {
		p.Description = description
	}
	if status != nil {
		p.Status = *status
	}
	return *p, nil
}

func (m *memBackend) DeleteProject(ctx context.Context, id string) error {
	if m.current == id {
		return store.ErrCurrentProject
	}
	if _, ok := m.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func newJSONContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err = %v, want *echo.HTTPError", err)
	}
	return he.Code
}

func TestAnalyzeEndpoint(t *testing.T) {
	st := newMemBackend()
	tr := tracker.New(st, nil, nil)
	h := &BudgetHandler{Tracker: tr, Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 0, nil)
	body := fmt.Sprintf(`{"project_id":%q,"parameters":{"budget_limit":50000,"spent":42000,"history":[5000,7000,8000,6000]}}`, p.ID)
	c, rec := newJSONContext(t, http.MethodPost, "/api/analyze", body)

	if err := h.analyze(c); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp BudgetAnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Remaining != 8000 || !resp.OvershootRisk || resp.PredictedSpending != 68000 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestAnalyzeRejectsNegativeFigures(t *testing.T) {
	st := newMemBackend()
	tr := tracker.New(st, nil, nil)
	h := &BudgetHandler{Tracker: tr, Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 0, nil)
	body := fmt.Sprintf(`{"project_id":%q,"parameters":{"budget_limit":-100}}`, p.ID)
	c, _ := newJSONContext(t, http.MethodPost, "/api/analyze", body)

	err := h.analyze(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", code)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	st := newMemBackend()
	tr := tracker.New(st, nil, nil)
	h := &BudgetHandler{Tracker: tr, Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 50000, nil)
	body := fmt.Sprintf(`{"project_id":%q,"update_type":"add","update_field":"spent","update_value":5000,"description":"server costs"}`, p.ID)
	c, rec := newJSONContext(t, http.MethodPost, "/api/update", body)

	if err := h.update(c); err != nil {
		t.Fatalf("update: %v", err)
	}
	var resp UpdateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Budget == nil || resp.Budget.Spent != 5000 {
		t.Fatalf("resp = %+v", resp)
	}
	stored := st.projects[p.ID]
	if len(stored.History) != 1 || stored.History[0].Description == nil || *stored.History[0].Description != "server costs" {
		t.Fatalf("history = %+v", stored.History)
	}
}

func TestUpdateEndpointValidation(t *testing.T) {
	st := newMemBackend()
	tr := tracker.New(st, nil, nil)
	h := &BudgetHandler{Tracker: tr, Store: st}

	cases := []string{
		`{"update_type":"add","update_field":"spent"}`,
		`{"update_type":"increment","update_field":"spent","update_value":10}`,
		`{"update_type":"add","update_field":"velocity","update_value":10}`,
	}
	for _, body := range cases {
		c, _ := newJSONContext(t, http.MethodPost, "/api/update", body)
		err := h.update(c)
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Fatalf("body %s: code = %d, want 400", body, code)
		}
	}
}

func TestBudgetEndpointNoCurrentProject(t *testing.T) {
	st := newMemBackend()
	tr := tracker.New(st, nil, nil)
	h := &BudgetHandler{Tracker: tr, Store: st}

	c, _ := newJSONContext(t, http.MethodGet, "/api/budget", "")
	err := h.budget(c)
	if code := httpCode(t, err); code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", code)
	}
}

func TestBudgetEndpoint(t *testing.T) {
	st := newMemBackend()
	tr := tracker.New(st, nil, nil)
	h := &BudgetHandler{Tracker: tr, Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 1000, nil)
	st.current = p.ID
	if _, err := st.SetSpent(context.Background(), p.ID, 400); err != nil {
		t.Fatalf("SetSpent: %v", err)
	}

	c, rec := newJSONContext(t, http.MethodGet, "/api/budget", "")
	if err := h.budget(c); err != nil {
		t.Fatalf("budget: %v", err)
	}
	var resp CurrentBudgetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Remaining != 600 || resp.ProjectID != p.ID {
		t.Fatalf("resp = %+v", resp)
	}
}
