// Package tracker orchestrates a budget request end to end: resolve the
// project, apply any requested mutation, merge explicitly stated figures
// over stored state, run the analyzer, and memoise the result. Mutating
// requests are serialized per project and always bypass the cache.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trackon/budgetd/internal/analysis"
	"github.com/trackon/budgetd/internal/cache"
	"github.com/trackon/budgetd/internal/ledger"
	"github.com/trackon/budgetd/internal/locks"
	"github.com/trackon/budgetd/internal/resolve"
	"github.com/trackon/budgetd/models"
)

// cacheOperation names the memoised analysis in fingerprints.
const cacheOperation = "analyze_budget"

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "budgetd_cache_hits_total",
		Help: "Analysis results served from the task cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "budgetd_cache_misses_total",
		Help: "Analysis requests that missed the task cache.",
	})
	analysesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "budgetd_analyses_total",
		Help: "Budget analyses computed.",
	})
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "budgetd_updates_total",
		Help: "Applied budget mutations by field.",
	}, []string{"field"})
)

// Store is the persistence surface the tracker drives. Both the Postgres
// and the file backend satisfy it.
type Store interface {
	resolve.Store
	cache.Cache

	AddSpend(ctx context.Context, id string, entry ledger.SpendEntry) (ledger.Project, error)
	SetSpent(ctx context.Context, id string, value float64) (ledger.Project, error)
	SetBudgetLimit(ctx context.Context, id string, value float64) (ledger.Project, error)
	AppendHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error)
	ReplaceHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error)
	SaveProjectState(ctx context.Context, id string, budgetLimit, spent float64, history []ledger.SpendEntry) (ledger.Project, error)
}

// Update is a validated mutation against a single project field.
type Update struct {
	Type        string
	Field       string
	Amount      float64
	Amounts     []float64
	Description *string
}

// Request is one budget operation. Params carries figures the caller
// stated explicitly; they override stored state for the analysis without
// being written back by a read-only request.
type Request struct {
	ProjectID   string
	ProjectName string
	Params      models.Parameters
	Update      *Update
}

// Outcome is the tracker's answer: the project as persisted after the
// request, the analysis over the merged figures, and whether the analysis
// came from the cache.
type Outcome struct {
	Project   ledger.Project
	Result    analysis.Result
	FromCache bool
	Updated   bool
}

// Tracker wires the resolver, store, cache and per-project locks.
type Tracker struct {
	store    Store
	resolver *resolve.Resolver
	locker   locks.Locker
	logger   *log.Logger
}

func New(st Store, locker locks.Locker, logger *log.Logger) *Tracker {
	if locker == nil {
		locker = locks.NewKeyedMutex()
	}
	return &Tracker{
		store:    st,
		resolver: resolve.New(st, logger),
		locker:   locker,
		logger:   logger,
	}
}

// BuildUpdate validates the mutation an extraction describes. The raw
// update_value is a number for spent and budget_limit and an array of
// numbers for history.
func BuildUpdate(ext models.Extraction) (*Update, error) {
	if !ext.HasUpdate() {
		return nil, nil
	}
	switch ext.UpdateType {
	case models.UpdateAdd, models.UpdateReplace, models.UpdateSet:
	default:
		return nil, &analysis.InvalidInputError{Reason: fmt.Sprintf("unknown update type %q", ext.UpdateType)}
	}
	u := &Update{Type: ext.UpdateType, Field: ext.UpdateField}
	if ext.Description != "" {
		desc := ext.Description
		u.Description = &desc
	}
	switch ext.UpdateField {
	case models.FieldSpent, models.FieldBudgetLimit:
		if err := json.Unmarshal(ext.UpdateValue, &u.Amount); err != nil {
			return nil, &analysis.InvalidInputError{Reason: fmt.Sprintf("update value for %s must be a number", ext.UpdateField)}
		}
	case models.FieldHistory:
		if err := json.Unmarshal(ext.UpdateValue, &u.Amounts); err != nil {
			return nil, &analysis.InvalidInputError{Reason: "update value for history must be an array of numbers"}
		}
	default:
		return nil, &analysis.InvalidInputError{Reason: fmt.Sprintf("unknown update field %q", ext.UpdateField)}
	}
	return u, nil
}

// Handle runs one request. Mutations are applied before the analysis and
// the analysis then reads the freshly persisted state, so the answer a
// mutating request returns always reflects its own write.
func (t *Tracker) Handle(ctx context.Context, req Request) (Outcome, error) {
	initialBudget := 0.0
	if req.Params.BudgetLimit != nil && *req.Params.BudgetLimit >= 0 {
		initialBudget = *req.Params.BudgetLimit
	}

	project, err := t.resolver.Resolve(ctx, req.ProjectID, req.ProjectName, initialBudget)
	if err != nil {
		return Outcome{}, err
	}

	updatedField := ""
	if req.Update != nil {
		release, err := t.locker.Lock(ctx, project.ID)
		if err != nil {
			return Outcome{}, err
		}
		project, err = t.applyUpdate(ctx, project, *req.Update)
		release()
		if err != nil {
			return Outcome{}, err
		}
		updatedField = req.Update.Field
		updatesTotal.WithLabelValues(updatedField).Inc()
	}

	// Explicit figures win over stored state, except the field the request
	// itself just wrote: the persisted value is authoritative for that one.
	limit := project.BudgetLimit
	if req.Params.BudgetLimit != nil && updatedField != models.FieldBudgetLimit {
		limit = *req.Params.BudgetLimit
	}
	spent := project.Spent
	if req.Params.Spent != nil && updatedField != models.FieldSpent {
		spent = *req.Params.Spent
	}
	history := project.History
	if req.Params.History != nil && updatedField != models.FieldHistory {
		history = ledger.FromAmounts(req.Params.History, time.Now().UTC())
	}
	amounts := ledger.Amounts(history)

	if req.Update == nil {
		key := cache.Fingerprint(project.ID, cacheOperation, limit, spent, amounts)
		if res, ok, err := t.store.GetCachedAnalysis(ctx, key); err != nil {
			return Outcome{}, err
		} else if ok {
			cacheHits.Inc()
			return Outcome{Project: project, Result: res, FromCache: true}, nil
		}
		cacheMisses.Inc()

		res, err := analysis.Analyze(analysis.Inputs{BudgetLimit: limit, Spent: spent, Amounts: amounts})
		if err != nil {
			return Outcome{}, err
		}
		analysesTotal.Inc()

		project, err = t.store.SaveProjectState(ctx, project.ID, limit, spent, history)
		if err != nil {
			return Outcome{}, err
		}
		if err := t.store.PutCachedAnalysis(ctx, project.ID, key, res); err != nil {
			return Outcome{}, err
		}
		return Outcome{Project: project, Result: res}, nil
	}

	// A mutating request never reads or fills the cache: its answer must
	// reflect the state it just wrote, not an earlier memoised result.
	res, err := analysis.Analyze(analysis.Inputs{BudgetLimit: limit, Spent: spent, Amounts: amounts})
	if err != nil {
		return Outcome{}, err
	}
	analysesTotal.Inc()
	return Outcome{Project: project, Result: res, Updated: true}, nil
}

func (t *Tracker) applyUpdate(ctx context.Context, project ledger.Project, u Update) (ledger.Project, error) {
	switch u.Field {
	case models.FieldSpent:
		if u.Type == models.UpdateAdd {
			entry := ledger.SpendEntry{
				Amount:      u.Amount,
				Description: u.Description,
				Date:        time.Now().UTC(),
			}
			return t.store.AddSpend(ctx, project.ID, entry)
		}
		if u.Amount < 0 {
			return ledger.Project{}, &analysis.InvalidInputError{Reason: "spent cannot be negative"}
		}
		return t.store.SetSpent(ctx, project.ID, u.Amount)
	case models.FieldBudgetLimit:
		value := u.Amount
		if u.Type == models.UpdateAdd {
			value = project.BudgetLimit + u.Amount
		}
		if value < 0 {
			return ledger.Project{}, &analysis.InvalidInputError{Reason: "budget limit cannot be negative"}
		}
		return t.store.SetBudgetLimit(ctx, project.ID, value)
	case models.FieldHistory:
		entries := ledger.FromAmounts(u.Amounts, time.Now().UTC())
		if u.Type == models.UpdateAdd {
			return t.store.AppendHistory(ctx, project.ID, entries)
		}
		return t.store.ReplaceHistory(ctx, project.ID, entries)
	}
	return ledger.Project{}, &analysis.InvalidInputError{Reason: fmt.Sprintf("unknown update field %q", u.Field)}
}
