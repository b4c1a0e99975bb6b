package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status enumerates the lifecycle states of a project.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// ValidStatus reports whether s is a known project status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// SpendEntry is one recorded spending event.
type SpendEntry struct {
	Amount      float64   `json:"amount"`
	Description *string   `json:"description"`
	Date        time.Time `json:"date"`
	Category    *string   `json:"category"`
}

// Project is a tracked budget ledger. Spent is the authoritative total;
// History is an audit trail of individual events and is not required to
// sum to Spent (set/replace updates touch only the total).
type Project struct {
	ID          string       `json:"project_id"`
	Name        string       `json:"project_name"`
	BudgetLimit float64      `json:"budget_limit"`
	Spent       float64      `json:"spent"`
	History     []SpendEntry `json:"history"`
	Description *string      `json:"description,omitempty"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Remaining is the budget left; negative when the project is overspent.
func (p Project) Remaining() float64 { return p.BudgetLimit - p.Spent }

// Amounts extracts the raw amounts from a history for calculations.
func Amounts(history []SpendEntry) []float64 {
	if len(history) == 0 {
		return nil
	}
	out := make([]float64, len(history))
	for i, e := range history {
		out[i] = e.Amount
	}
	return out
}

// FromAmounts wraps bare amounts into structured entries dated now.
func FromAmounts(amounts []float64, now time.Time) []SpendEntry {
	if len(amounts) == 0 {
		return nil
	}
	out := make([]SpendEntry, len(amounts))
	for i, a := range amounts {
		out[i] = SpendEntry{Amount: a, Date: now.UTC()}
	}
	return out
}

// Normalize decodes a stored history value into structured spend entries.
// Older records stored bare numbers; newer ones store objects. Mixed arrays
// are accepted. Order is preserved, nothing is dropped, and normalizing an
// already-normalized array yields an equal array.
func Normalize(raw json.RawMessage, now time.Time) ([]SpendEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("history is not an array: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]SpendEntry, 0, len(items))
	for i, item := range items {
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			out = append(out, SpendEntry{Amount: n, Date: now.UTC()})
			continue
		}
		var e rawEntry
		if err := json.Unmarshal(item, &e); err != nil {
			return nil, fmt.Errorf("history[%d]: %w", i, err)
		}
		out = append(out, e.toEntry(now))
	}
	return out, nil
}

// rawEntry tolerates the legacy "value" key alongside "amount" and a
// missing date.
type rawEntry struct {
	Amount      *float64 `json:"amount"`
	Value       *float64 `json:"value"`
	Description *string  `json:"description"`
	Date        *string  `json:"date"`
	Category    *string  `json:"category"`
}

func (e rawEntry) toEntry(now time.Time) SpendEntry {
	entry := SpendEntry{Description: e.Description, Category: e.Category, Date: now.UTC()}
	switch {
	case e.Amount != nil:
		entry.Amount = *e.Amount
	case e.Value != nil:
		entry.Amount = *e.Value
	}
	if e.Date != nil {
		if t, err := time.Parse(time.RFC3339, *e.Date); err == nil {
			entry.Date = t
		}
	}
	return entry
}
