package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trackon/budgetd/internal/tracker"
	"github.com/trackon/budgetd/models"
	"github.com/trackon/budgetd/provider"
)

// QueryHandler answers natural-language budget questions. The LLM only
// extracts structure and phrases the answer; every figure comes from the
// local analyzer. An unreachable or misbehaving LLM degrades the request
// to a plain budget check with a template summary, never to a failure.
type QueryHandler struct {
	Tracker *tracker.Tracker
	LLM     provider.Provider
	Timeout time.Duration
	Logger  *log.Logger
}

func (h *QueryHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
}

func (h *QueryHandler) query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ext := h.extract(c.Request().Context(), req.Query)

	update, err := tracker.BuildUpdate(ext)
	if err != nil {
		return httpError(err)
	}
	outcome, err := h.Tracker.Handle(c.Request().Context(), tracker.Request{
		ProjectID:   req.ProjectID,
		ProjectName: ext.ProjectName,
		Params:      ext.Parameters,
		Update:      update,
	})
	if err != nil {
		return httpError(err)
	}

	resp := analysisResponse(outcome)
	resp.Response = h.summarize(c.Request().Context(), req.Query, outcome, resp)
	return c.JSON(http.StatusOK, resp)
}

// extract runs the LLM extraction with a bounded deadline. Any failure
// degrades to a plain check with no extracted parameters.
func (h *QueryHandler) extract(ctx context.Context, query string) models.Extraction {
	fallback := models.Extraction{Intent: models.IntentCheck}
	if h.LLM == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()
	ext, err := h.LLM.ExtractQuery(ctx, query)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Printf("extraction failed, falling back to check: %v", err)
		}
		return fallback
	}
	if !models.ValidIntent(ext.Intent) {
		ext.Intent = models.IntentCheck
	}
	return ext
}

func (h *QueryHandler) summarize(ctx context.Context, query string, outcome tracker.Outcome, resp BudgetAnalysisResponse) string {
	if h.LLM != nil {
		state, err := json.Marshal(resp)
		if err == nil {
			ctx, cancel := context.WithTimeout(ctx, h.timeout())
			defer cancel()
			if s, err := h.LLM.Summarize(ctx, query, state); err == nil && strings.TrimSpace(s) != "" {
				return s
			} else if err != nil && h.Logger != nil {
				h.Logger.Printf("summary failed, using template: %v", err)
			}
		}
	}
	return templateSummary(outcome)
}

// templateSummary is the deterministic stand-in when no LLM is available.
func templateSummary(o tracker.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project %q has spent %.2f of its %.2f budget; %.2f remains.",
		o.Project.Name, o.Project.Spent, o.Project.BudgetLimit, o.Result.Remaining)
	if o.Result.OvershootRisk {
		fmt.Fprintf(&b, " Predicted spending of %.2f exceeds the budget limit.", o.Result.PredictedSpending)
	}
	if n := len(o.Result.Anomalies); n > 0 {
		fmt.Fprintf(&b, " %d unusual spending entr", n)
		if n == 1 {
			b.WriteString("y was detected.")
		} else {
			b.WriteString("ies were detected.")
		}
	}
	return b.String()
}

func (h *QueryHandler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 30 * time.Second
}
