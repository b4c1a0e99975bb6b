package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newParamContext(t *testing.T, method, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	c, rec := newJSONContext(t, method, "/api/projects/"+id, body)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestProjectsCreate(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	c, rec := newJSONContext(t, http.MethodPost, "/api/projects", `{"project_name":"Launch","budget_limit":50000}`)
	if err := h.create(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201", rec.Code)
	}
	var resp ProjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProjectName != "Launch" || resp.BudgetLimit != 50000 {
		t.Fatalf("resp = %+v", resp)
	}
	// The very first project becomes current.
	if st.current != resp.ProjectID {
		t.Fatalf("current = %q, want %q", st.current, resp.ProjectID)
	}
}

func TestProjectsCreateValidation(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	cases := []string{
		`{"project_name":"  ","budget_limit":100}`,
		`{"project_name":"Launch","budget_limit":-1}`,
	}
	for _, body := range cases {
		c, _ := newJSONContext(t, http.MethodPost, "/api/projects", body)
		err := h.create(c)
		if code := httpCode(t, err); code != http.StatusBadRequest {
			t.Fatalf("body %s: code = %d, want 400", body, code)
		}
	}
}

func TestProjectsSecondCreateKeepsCurrent(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	c, _ := newJSONContext(t, http.MethodPost, "/api/projects", `{"project_name":"First","budget_limit":100}`)
	if err := h.create(c); err != nil {
		t.Fatalf("create first: %v", err)
	}
	first := st.current

	c, _ = newJSONContext(t, http.MethodPost, "/api/projects", `{"project_name":"Second","budget_limit":100}`)
	if err := h.create(c); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if st.current != first {
		t.Fatal("creating a second project must not steal the current pointer")
	}
}

func TestProjectsGetMissing(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	c, _ := newParamContext(t, http.MethodGet, "", "project_unknown")
	err := h.get(c)
	if code := httpCode(t, err); code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", code)
	}
}

func TestProjectsList(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 100, nil)
	st.current = p.ID

	c, rec := newJSONContext(t, http.MethodGet, "/api/projects", "")
	if err := h.list(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp ProjectListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.CurrentProjectID != p.ID {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestProjectsPutStatusValidation(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 100, nil)

	c, _ := newParamContext(t, http.MethodPut, `{"status":"paused"}`, p.ID)
	err := h.put(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", code)
	}

	c, rec := newParamContext(t, http.MethodPut, `{"status":"completed","budget_limit":900}`, p.ID)
	if err := h.put(c); err != nil {
		t.Fatalf("put: %v", err)
	}
	var resp ProjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.BudgetLimit != 900 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestProjectsDeleteCurrentConflicts(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 100, nil)
	st.current = p.ID

	c, _ := newParamContext(t, http.MethodDelete, "", p.ID)
	err := h.delete(c)
	if code := httpCode(t, err); code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", code)
	}
}

func TestProjectsDelete(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 100, nil)

	c, rec := newParamContext(t, http.MethodDelete, "", p.ID)
	if err := h.delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if _, ok := st.projects[p.ID]; ok {
		t.Fatal("project still present after delete")
	}
}

func TestProjectsSetCurrent(t *testing.T) {
	st := newMemBackend()
	h := &ProjectsHandler{Store: st}

	p, _ := st.CreateProject(context.Background(), "Launch", 100, nil)

	c, _ := newParamContext(t, http.MethodPost, "", p.ID)
	if err := h.setCurrent(c); err != nil {
		t.Fatalf("setCurrent: %v", err)
	}
	if st.current != p.ID {
		t.Fatalf("current = %q, want %q", st.current, p.ID)
	}

	c, _ = newParamContext(t, http.MethodPost, "", "project_unknown")
	err := h.setCurrent(c)
	if code := httpCode(t, err); code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", code)
	}
}

func TestHealthDegradedOnPingFailure(t *testing.T) {
	st := newMemBackend()
	st.pingErr = errors.New("connection refused")

	c, rec := newJSONContext(t, http.MethodGet, "/api/health", "")
	if err := healthHandler(st, "file")(c); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.StorageConnected {
		t.Fatalf("resp = %+v", resp)
	}
}
