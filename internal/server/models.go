package server

import (
	"encoding/json"

	"github.com/trackon/budgetd/internal/analysis"
	"github.com/trackon/budgetd/internal/ledger"
	"github.com/trackon/budgetd/internal/tracker"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// BudgetParameters are figures the caller states explicitly. Nil means
// unstated, which is different from zero.
type BudgetParameters struct {
	BudgetLimit *float64  `json:"budget_limit"`
	Spent       *float64  `json:"spent"`
	History     []float64 `json:"history"`
}

// QueryRequest is a natural-language budget question.
type QueryRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id,omitempty"`
}

// AnalyzeRequest is a structured analysis request.
type AnalyzeRequest struct {
	ProjectID  string           `json:"project_id,omitempty"`
	Parameters BudgetParameters `json:"parameters"`
	Intent     string           `json:"intent,omitempty"`
}

// UpdateRequest is a structured mutation. UpdateValue is a number for
// spent and budget_limit, an array of numbers for history.
type UpdateRequest struct {
	ProjectID   string          `json:"project_id,omitempty"`
	UpdateType  string          `json:"update_type"`
	UpdateField string          `json:"update_field"`
	UpdateValue json.RawMessage `json:"update_value"`
	Description string          `json:"description,omitempty"`
}

// BudgetAnalysisResponse is the analysis answer shared by the query and
// analyze endpoints.
type BudgetAnalysisResponse struct {
	Success           bool               `json:"success"`
	ProjectID         string             `json:"project_id,omitempty"`
	ProjectName       string             `json:"project_name,omitempty"`
	Remaining         float64            `json:"remaining"`
	SpendingRate      *float64           `json:"spending_rate"`
	OvershootRisk     bool               `json:"overshoot_risk"`
	PredictedSpending float64            `json:"predicted_spending"`
	Anomalies         []analysis.Anomaly `json:"anomalies"`
	Recommendations   []string           `json:"recommendations"`
	FromCache         bool               `json:"from_cache"`
	Response          string             `json:"response,omitempty"`
}

// CurrentBudgetResponse is a plain budget snapshot.
type CurrentBudgetResponse struct {
	Success     bool      `json:"success"`
	ProjectID   string    `json:"project_id,omitempty"`
	ProjectName string    `json:"project_name,omitempty"`
	BudgetLimit float64   `json:"budget_limit"`
	Spent       float64   `json:"spent"`
	Remaining   float64   `json:"remaining"`
	History     []float64 `json:"history"`
	LastUpdated string    `json:"last_updated,omitempty"`
}

// UpdateResponse confirms a mutation and returns the state it produced.
type UpdateResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Budget  *CurrentBudgetResponse `json:"budget,omitempty"`
}

// HealthResponse reports storage connectivity.
type HealthResponse struct {
	Status           string `json:"status"`
	StorageConnected bool   `json:"storage_connected"`
	Driver           string `json:"driver"`
}

// ProjectCreateRequest creates a project.
type ProjectCreateRequest struct {
	ProjectName string  `json:"project_name"`
	BudgetLimit float64 `json:"budget_limit"`
	Description *string `json:"description,omitempty"`
}

// ProjectUpdateRequest patches project metadata; nil fields stay as-is.
type ProjectUpdateRequest struct {
	ProjectName *string  `json:"project_name"`
	BudgetLimit *float64 `json:"budget_limit"`
	Description *string  `json:"description"`
	Status      *string  `json:"status"`
}

// ProjectResponse is a full project view.
type ProjectResponse struct {
	Success     bool      `json:"success"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	BudgetLimit float64   `json:"budget_limit"`
	Spent       float64   `json:"spent"`
	Remaining   float64   `json:"remaining"`
	History     []float64 `json:"history"`
	Description *string   `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   string    `json:"created_at,omitempty"`
	LastUpdated string    `json:"last_updated,omitempty"`
}

// ProjectListResponse lists projects plus the current pointer.
type ProjectListResponse struct {
	Success          bool              `json:"success"`
	Projects         []ProjectResponse `json:"projects"`
	CurrentProjectID string            `json:"current_project_id,omitempty"`
	Count            int               `json:"count"`
}

func projectResponse(p ledger.Project) ProjectResponse {
	resp := ProjectResponse{
		Success:     true,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		BudgetLimit: p.BudgetLimit,
		Spent:       p.Spent,
		Remaining:   p.Remaining(),
		History:     ledger.Amounts(p.History),
		Description: p.Description,
		Status:      string(p.Status),
	}
	if !p.CreatedAt.IsZero() {
		resp.CreatedAt = p.CreatedAt.UTC().Format(timeLayout)
	}
	if !p.UpdatedAt.IsZero() {
		resp.LastUpdated = p.UpdatedAt.UTC().Format(timeLayout)
	}
	return resp
}

func budgetResponse(p ledger.Project) CurrentBudgetResponse {
	resp := CurrentBudgetResponse{
		Success:     true,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		BudgetLimit: p.BudgetLimit,
		Spent:       p.Spent,
		Remaining:   p.Remaining(),
		History:     ledger.Amounts(p.History),
	}
	if !p.UpdatedAt.IsZero() {
		resp.LastUpdated = p.UpdatedAt.UTC().Format(timeLayout)
	}
	return resp
}

func analysisResponse(o tracker.Outcome) BudgetAnalysisResponse {
	anomalies := o.Result.Anomalies
	if anomalies == nil {
		anomalies = []analysis.Anomaly{}
	}
	recs := o.Result.Recommendations
	if recs == nil {
		recs = []string{}
	}
	return BudgetAnalysisResponse{
		Success:           true,
		ProjectID:         o.Project.ID,
		ProjectName:       o.Project.Name,
		Remaining:         o.Result.Remaining,
		SpendingRate:      o.Result.SpendingRate,
		OvershootRisk:     o.Result.OvershootRisk,
		PredictedSpending: o.Result.PredictedSpending,
		Anomalies:         anomalies,
		Recommendations:   recs,
		FromCache:         o.FromCache,
	}
}
