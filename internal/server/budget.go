package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trackon/budgetd/internal/tracker"
	"github.com/trackon/budgetd/models"
)

// BudgetHandler serves the structured (non-LLM) budget endpoints.
type BudgetHandler struct {
	Tracker *tracker.Tracker
	Store   Backend
}

func (h *BudgetHandler) Register(g *echo.Group) {
	g.POST("/analyze", h.analyze)
	g.POST("/update", h.update)
	g.GET("/budget", h.budget)
}

func (h *BudgetHandler) analyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcome, err := h.Tracker.Handle(c.Request().Context(), tracker.Request{
		ProjectID: req.ProjectID,
		Params: models.Parameters{
			BudgetLimit: req.Parameters.BudgetLimit,
			Spent:       req.Parameters.Spent,
			History:     req.Parameters.History,
		},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, analysisResponse(outcome))
}

func (h *BudgetHandler) update(c echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ext := models.Extraction{
		Intent:      models.IntentUpdate,
		UpdateType:  req.UpdateType,
		UpdateField: req.UpdateField,
		UpdateValue: req.UpdateValue,
		Description: req.Description,
	}
	u, err := tracker.BuildUpdate(ext)
	if err != nil {
		return httpError(err)
	}
	if u == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "update_type, update_field and update_value are required")
	}
	outcome, err := h.Tracker.Handle(c.Request().Context(), tracker.Request{
		ProjectID: req.ProjectID,
		Update:    u,
	})
	if err != nil {
		return httpError(err)
	}
	budget := budgetResponse(outcome.Project)
	return c.JSON(http.StatusOK, UpdateResponse{
		Success: true,
		Message: fmt.Sprintf("%s applied to %s", req.UpdateType, req.UpdateField),
		Budget:  &budget,
	})
}

// budget returns the current project's ledger without running an analysis.
func (h *BudgetHandler) budget(c echo.Context) error {
	ctx := c.Request().Context()
	id, ok, err := h.Store.CurrentProjectID(ctx)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no current project")
	}
	p, found, err := h.Store.GetProject(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "current project missing")
	}
	return c.JSON(http.StatusOK, budgetResponse(p))
}
