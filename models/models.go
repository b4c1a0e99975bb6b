package models

import "encoding/json"

// Intent classifies what a natural-language budget query asks for.
type Intent string

const (
	IntentCheck     Intent = "check"
	IntentUpdate    Intent = "update"
	IntentPredict   Intent = "predict"
	IntentRecommend Intent = "recommend"
	IntentAnalyze   Intent = "analyze"
	IntentReport    Intent = "report"
	IntentQuestion  Intent = "question"
)

// ValidIntent reports whether s is a recognised intent.
func ValidIntent(s Intent) bool {
	switch s {
	case IntentCheck, IntentUpdate, IntentPredict, IntentRecommend,
		IntentAnalyze, IntentReport, IntentQuestion:
		return true
	}
	return false
}

// Update kinds and the fields they may target.
const (
	UpdateAdd     = "add"
	UpdateReplace = "replace"
	UpdateSet     = "set"

	FieldSpent       = "spent"
	FieldBudgetLimit = "budget_limit"
	FieldHistory     = "history"
)

// Extraction is the structured reading of a natural-language budget query.
// UpdateValue stays raw because it is a number for spent/budget_limit
// updates and an array for history updates.
type Extraction struct {
	Intent      Intent          `json:"intent"`
	ProjectName string          `json:"project_name"`
	Parameters  Parameters      `json:"parameters"`
	UpdateType  string          `json:"update_type,omitempty"`
	UpdateField string          `json:"update_field,omitempty"`
	UpdateValue json.RawMessage `json:"update_value,omitempty"`
	Description string          `json:"spending_description,omitempty"`
}

// Parameters carries explicit figures the user stated in the query. Nil
// means the user did not state the figure, which is distinct from zero.
type Parameters struct {
	BudgetLimit *float64  `json:"budget_limit"`
	Spent       *float64  `json:"spent"`
	History     []float64 `json:"history"`
}

// HasUpdate reports whether the extraction describes a mutation.
func (e Extraction) HasUpdate() bool {
	return e.Intent == IntentUpdate && e.UpdateField != "" && len(e.UpdateValue) > 0
}
