// Package store persists projects, the current-project pointer and the
// analysis task cache. Two backends implement the same surface: Postgres
// (this file) and a single JSON document on disk (filestore.go). All rows
// are scoped by the service's agent identity so several trackers can share
// one database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/trackon/budgetd/internal/analysis"
	"github.com/trackon/budgetd/internal/ledger"
)

const projectColumns = "id, name, budget_limit, spent, history, description, status, created_at, updated_at"

// Store is the Postgres-backed budget store.
type Store struct {
	DB      *sql.DB
	AgentID string
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn, agentID string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db, AgentID: agentID}, nil
}

// Ping reports storage reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// NewProjectID mints ids in the project_<12 hex> form the API exposes.
func NewProjectID() string {
	return "project_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateProject inserts a new active project with an empty history.
func (s *Store) CreateProject(ctx context.Context, name string, budgetLimit float64, description *string) (ledger.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Project{}, fmt.Errorf("project name must be provided")
	}
	if budgetLimit < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit cannot be negative")
	}
	id := NewProjectID()
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO projects (id, agent_id, name, budget_limit, spent, history, description, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,'[]'::jsonb,$5,'active',NOW(),NOW())
RETURNING `+projectColumns, id, s.AgentID, name, budgetLimit, description)
	return scanProject(row)
}

// GetProject fetches one project; ok is false when the id is unknown.
func (s *Store) GetProject(ctx context.Context, id string) (ledger.Project, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+projectColumns+` FROM projects WHERE id=$1 AND agent_id=$2`, id, s.AgentID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Project{}, false, nil
	}
	if err != nil {
		return ledger.Project{}, false, err
	}
	return p, true, nil
}

// ListProjects returns all projects for this agent, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]ledger.Project, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+projectColumns+` FROM projects WHERE agent_id=$1 ORDER BY created_at DESC`, s.AgentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectMeta overwrites the provided metadata fields, leaving nil
// ones untouched.
func (s *Store) UpdateProjectMeta(ctx context.Context, id string, name *string, budgetLimit *float64, description *string, status *ledger.Status) (ledger.Project, error) {
	if budgetLimit != nil && *budgetLimit < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit cannot be negative")
	}
	if status != nil && !ledger.ValidStatus(*status) {
		return ledger.Project{}, fmt.Errorf("unknown project status %q", *status)
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE projects SET
  name = COALESCE($3, name),
  budget_limit = COALESCE($4, budget_limit),
  description = COALESCE($5, description),
  status = COALESCE($6, status),
  updated_at = NOW()
WHERE id=$1 AND agent_id=$2
RETURNING `+projectColumns, id, s.AgentID, name, budgetLimit, description, (*string)(status))
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Project{}, ErrNotFound
	}
	return p, err
}

// DeleteProject removes a project and its cached analyses. The project the
// current pointer references cannot be deleted.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if current, ok, err := s.CurrentProjectID(ctx); err != nil {
		return err
	} else if ok && current == id {
		return ErrCurrentProject
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND agent_id=$2`, id, s.AgentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_cache WHERE project_id=$1 AND agent_id=$2`, id, s.AgentID); err != nil {
		return err
	}
	return tx.Commit()
}

// CurrentProjectID reads the current-project pointer; ok is false when it
// was never set.
func (s *Store) CurrentProjectID(ctx context.Context) (string, bool, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
SELECT project_id FROM current_project WHERE agent_id=$1`, s.AgentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SetCurrentProject moves the current-project pointer.
func (s *Store) SetCurrentProject(ctx context.Context, id string) error {
	if _, ok, err := s.GetProject(ctx, id); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO current_project (agent_id, project_id, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (agent_id) DO UPDATE SET project_id = EXCLUDED.project_id, updated_at = NOW()`, s.AgentID, id)
	return err
}

// AddSpend atomically increments spent and appends the entry to history,
// so concurrent additive updates against one project commute.
func (s *Store) AddSpend(ctx context.Context, id string, entry ledger.SpendEntry) (ledger.Project, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return ledger.Project{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE projects SET spent = spent + $3, history = history || $4::jsonb, updated_at = NOW()
WHERE id=$1 AND agent_id=$2
RETURNING `+projectColumns, id, s.AgentID, entry.Amount, payload)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Project{}, ErrNotFound
	}
	return p, err
}

// SetSpent overwrites the spent total. History is left untouched: spent is
// the authoritative ledger value, history the audit trail.
func (s *Store) SetSpent(ctx context.Context, id string, value float64) (ledger.Project, error) {
	if value < 0 {
		return ledger.Project{}, fmt.Errorf("spent cannot be negative")
	}
	return s.setField(ctx, id, "spent", value)
}

// SetBudgetLimit overwrites the budget limit.
func (s *Store) SetBudgetLimit(ctx context.Context, id string, value float64) (ledger.Project, error) {
	if value < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit cannot be negative")
	}
	return s.setField(ctx, id, "budget_limit", value)
}

func (s *Store) setField(ctx context.Context, id, column string, value float64) (ledger.Project, error) {
	row := s.DB.QueryRowContext(ctx, `
UPDATE projects SET `+column+` = $3, updated_at = NOW()
WHERE id=$1 AND agent_id=$2
RETURNING `+projectColumns, id, s.AgentID, value)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Project{}, ErrNotFound
	}
	return p, err
}

// AppendHistory concatenates entries onto the stored history.
func (s *Store) AppendHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error) {
	return s.writeHistory(ctx, id, entries, true)
}

// ReplaceHistory overwrites the stored history.
func (s *Store) ReplaceHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error) {
	return s.writeHistory(ctx, id, entries, false)
}

func (s *Store) writeHistory(ctx context.Context, id string, entries []ledger.SpendEntry, appendTo bool) (ledger.Project, error) {
	if entries == nil {
		entries = []ledger.SpendEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return ledger.Project{}, err
	}
	expr := "$3::jsonb"
	if appendTo {
		expr = "history || $3::jsonb"
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE projects SET history = `+expr+`, updated_at = NOW()
WHERE id=$1 AND agent_id=$2
RETURNING `+projectColumns, id, s.AgentID, payload)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Project{}, ErrNotFound
	}
	return p, err
}

// SaveProjectState persists the merged ledger values after a read-only
// analysis. History is always written in structured form.
func (s *Store) SaveProjectState(ctx context.Context, id string, budgetLimit, spent float64, history []ledger.SpendEntry) (ledger.Project, error) {
	if budgetLimit < 0 || spent < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit and spent amount must be non-negative")
	}
	if history == nil {
		history = []ledger.SpendEntry{}
	}
	payload, err := json.Marshal(history)
	if err != nil {
		return ledger.Project{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE projects SET budget_limit = $3, spent = $4, history = $5::jsonb, updated_at = NOW()
WHERE id=$1 AND agent_id=$2
RETURNING `+projectColumns, id, s.AgentID, budgetLimit, spent, payload)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Project{}, ErrNotFound
	}
	return p, err
}

// GetCachedAnalysis looks up a memoised analyzer result by fingerprint.
func (s *Store) GetCachedAnalysis(ctx context.Context, key string) (analysis.Result, bool, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT result FROM task_cache WHERE agent_id=$1 AND cache_key=$2`, s.AgentID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.Result{}, false, nil
	}
	if err != nil {
		return analysis.Result{}, false, err
	}
	var res analysis.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return analysis.Result{}, false, fmt.Errorf("decode cached analysis: %w", err)
	}
	return res, true, nil
}

// PutCachedAnalysis stores an analyzer result under its fingerprint,
// overwriting unconditionally. Entries persist indefinitely.
func (s *Store) PutCachedAnalysis(ctx context.Context, projectID, key string, res analysis.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO task_cache (agent_id, cache_key, project_id, result, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (agent_id, cache_key) DO UPDATE SET
  project_id = EXCLUDED.project_id,
  result = EXCLUDED.result,
  updated_at = NOW()`, s.AgentID, key, projectID, payload)
	return err
}

// User operations (auth layer).

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (ledger.Project, error) {
	var (
		p       ledger.Project
		history []byte
		desc    sql.NullString
		status  string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.BudgetLimit, &p.Spent, &history, &desc, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return ledger.Project{}, err
	}
	if desc.Valid {
		p.Description = &desc.String
	}
	p.Status = ledger.Status(status)
	entries, err := ledger.Normalize(history, time.Now())
	if err != nil {
		return ledger.Project{}, fmt.Errorf("normalize history for %s: %w", p.ID, err)
	}
	p.History = entries
	return p, nil
}
