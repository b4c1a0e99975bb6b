package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trackon/budgetd/internal/ledger"
)

// ProjectsHandler serves project CRUD. Unlike the query path, lookups by
// id here are strict: a missing id is a 404, never a silent fallback.
type ProjectsHandler struct {
	Store Backend
}

func (h *ProjectsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.put)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/set-current", h.setCurrent)
	g.GET("/:id/budget", h.budget)
}

func (h *ProjectsHandler) create(c echo.Context) error {
	var req ProjectCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_name is required")
	}
	if req.BudgetLimit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "budget_limit cannot be negative")
	}
	ctx := c.Request().Context()
	p, err := h.Store.CreateProject(ctx, req.ProjectName, req.BudgetLimit, req.Description)
	if err != nil {
		return httpError(err)
	}
	// The first project becomes current so queries have a target.
	if _, ok, err := h.Store.CurrentProjectID(ctx); err == nil && !ok {
		_ = h.Store.SetCurrentProject(ctx, p.ID)
	}
	return c.JSON(http.StatusCreated, projectResponse(p))
}

func (h *ProjectsHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	projects, err := h.Store.ListProjects(ctx)
	if err != nil {
		return httpError(err)
	}
	currentID, _, err := h.Store.CurrentProjectID(ctx)
	if err != nil {
		return httpError(err)
	}
	resp := ProjectListResponse{
		Success:          true,
		Projects:         make([]ProjectResponse, 0, len(projects)),
		CurrentProjectID: currentID,
		Count:            len(projects),
	}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, projectResponse(p))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ProjectsHandler) get(c echo.Context) error {
	p, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projectResponse(p))
}

func (h *ProjectsHandler) put(c echo.Context) error {
	var req ProjectUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var status *ledger.Status
	if req.Status != nil {
		s := ledger.Status(*req.Status)
		if !ledger.ValidStatus(s) {
			return echo.NewHTTPError(http.StatusBadRequest, "status must be active, completed or archived")
		}
		status = &s
	}
	if req.BudgetLimit != nil && *req.BudgetLimit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "budget_limit cannot be negative")
	}
	p, err := h.Store.UpdateProjectMeta(c.Request().Context(), c.Param("id"), req.ProjectName, req.BudgetLimit, req.Description, status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, projectResponse(p))
}

func (h *ProjectsHandler) delete(c echo.Context) error {
	if err := h.Store.DeleteProject(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "project deleted"})
}

func (h *ProjectsHandler) setCurrent(c echo.Context) error {
	id := c.Param("id")
	if err := h.Store.SetCurrentProject(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "current_project_id": id})
}

func (h *ProjectsHandler) budget(c echo.Context) error {
	p, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, budgetResponse(p))
}

func (h *ProjectsHandler) lookup(c echo.Context) (ledger.Project, error) {
	p, ok, err := h.Store.GetProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ledger.Project{}, httpError(err)
	}
	if !ok {
		return ledger.Project{}, echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return p, nil
}
