package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/trackon/budgetd/internal/analysis"
	"github.com/trackon/budgetd/internal/ledger"
)

// FileStore keeps the same three structures as the Postgres backend in a
// single JSON document: top-level keys "projects", "tasks" and
// "current_project". A process-wide mutex serializes every operation, so
// additive updates within one process cannot race; writes go through a
// temp file and rename, so a failed write never truncates the document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileDocument struct {
	Projects       map[string]*fileProject    `json:"projects"`
	Tasks          map[string]analysis.Result `json:"tasks"`
	CurrentProject string                     `json:"current_project,omitempty"`
}

type fileProject struct {
	Name        string          `json:"project_name"`
	BudgetLimit float64         `json:"budget_limit"`
	Spent       float64         `json:"spent"`
	History     json.RawMessage `json:"history"`
	Description *string         `json:"description,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewFileStore opens (or initialises) the JSON document at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		if err := fs.save(&fileDocument{Projects: map[string]*fileProject{}, Tasks: map[string]analysis.Result{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return fs, nil
}

// Ping verifies the document is readable.
func (f *FileStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.load()
	return err
}

func (f *FileStore) load() (*fileDocument, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if doc.Projects == nil {
		doc.Projects = map[string]*fileProject{}
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]analysis.Result{}
	}
	return &doc, nil
}

func (f *FileStore) save(doc *fileDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) CreateProject(ctx context.Context, name string, budgetLimit float64, description *string) (ledger.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Project{}, fmt.Errorf("project name must be provided")
	}
	if budgetLimit < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit cannot be negative")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return ledger.Project{}, err
	}
	id := NewProjectID()
	now := time.Now().UTC()
	doc.Projects[id] = &fileProject{
		Name:        name,
		BudgetLimit: budgetLimit,
		History:     json.RawMessage("[]"),
		Description: description,
		Status:      string(ledger.StatusActive),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.save(doc); err != nil {
		return ledger.Project{}, err
	}
	return toProject(id, doc.Projects[id])
}

func (f *FileStore) GetProject(ctx context.Context, id string) (ledger.Project, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return ledger.Project{}, false, err
	}
	fp, ok := doc.Projects[id]
	if !ok {
		return ledger.Project{}, false, nil
	}
	p, err := toProject(id, fp)
	if err != nil {
		return ledger.Project{}, false, err
	}
	return p, true, nil
}

func (f *FileStore) ListProjects(ctx context.Context) ([]ledger.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Project, 0, len(doc.Projects))
	for id, fp := range doc.Projects {
		p, err := toProject(id, fp)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *FileStore) UpdateProjectMeta(ctx context.Context, id string, name *string, budgetLimit *float64, description *string, status *ledger.Status) (ledger.Project, error) {
	if budgetLimit != nil && *budgetLimit < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit cannot be negative")
	}
	if status != nil && !ledger.ValidStatus(*status) {
		return ledger.Project{}, fmt.Errorf("unknown project status %q", *status)
	}
	return f.mutate(id, func(fp *fileProject) error {
		if name != nil {
			fp.Name = *name
		}
		if budgetLimit != nil {
			fp.BudgetLimit = *budgetLimit
		}
		if description != nil {
			fp.Description = description
		}
		if status != nil {
			fp.Status = string(*status)
		}
		return nil
	})
}

func (f *FileStore) DeleteProject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc.CurrentProject == id {
		return ErrCurrentProject
	}
	if _, ok := doc.Projects[id]; !ok {
		return ErrNotFound
	}
	delete(doc.Projects, id)
	for key := range doc.Tasks {
		if strings.HasPrefix(key, id+":") {
			delete(doc.Tasks, key)
		}
	}
	return f.save(doc)
}

func (f *FileStore) CurrentProjectID(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	if doc.CurrentProject == "" {
		return "", false, nil
	}
	return doc.CurrentProject, true, nil
}

func (f *FileStore) SetCurrentProject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Projects[id]; !ok {
		return ErrNotFound
	}
	doc.CurrentProject = id
	return f.save(doc)
}

func (f *FileStore) AddSpend(ctx context.Context, id string, entry ledger.SpendEntry) (ledger.Project, error) {
	return f.mutate(id, func(fp *fileProject) error {
		history, err := ledger.Normalize(fp.History, time.Now())
		if err != nil {
			return err
		}
		fp.Spent += entry.Amount
		return fp.setHistory(append(history, entry))
	})
}

func (f *FileStore) SetSpent(ctx context.Context, id string, value float64) (ledger.Project, error) {
	if value < 0 {
		return ledger.Project{}, fmt.Errorf("spent cannot be negative")
	}
	return f.mutate(id, func(fp *fileProject) error {
		fp.Spent = value
		return nil
	})
}

func (f *FileStore) SetBudgetLimit(ctx context.Context, id string, value float64) (ledger.Project, error) {
	if value < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit cannot be negative")
	}
	return f.mutate(id, func(fp *fileProject) error {
		fp.BudgetLimit = value
		return nil
	})
}

func (f *FileStore) AppendHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error) {
	return f.mutate(id, func(fp *fileProject) error {
		history, err := ledger.Normalize(fp.History, time.Now())
		if err != nil {
			return err
		}
		return fp.setHistory(append(history, entries...))
	})
}

func (f *FileStore) ReplaceHistory(ctx context.Context, id string, entries []ledger.SpendEntry) (ledger.Project, error) {
	return f.mutate(id, func(fp *fileProject) error {
		return fp.setHistory(entries)
	})
}

func (f *FileStore) SaveProjectState(ctx context.Context, id string, budgetLimit, spent float64, history []ledger.SpendEntry) (ledger.Project, error) {
	if budgetLimit < 0 || spent < 0 {
		return ledger.Project{}, fmt.Errorf("budget limit and spent amount must be non-negative")
	}
	return f.mutate(id, func(fp *fileProject) error {
		fp.BudgetLimit = budgetLimit
		fp.Spent = spent
		return fp.setHistory(history)
	})
}

func (f *FileStore) GetCachedAnalysis(ctx context.Context, key string) (analysis.Result, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return analysis.Result{}, false, err
	}
	res, ok := doc.Tasks[key]
	return res, ok, nil
}

func (f *FileStore) PutCachedAnalysis(ctx context.Context, projectID, key string, res analysis.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.Tasks[key] = res
	return f.save(doc)
}

// mutate loads the document, applies fn to the project and saves.
func (f *FileStore) mutate(id string, fn func(*fileProject) error) (ledger.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return ledger.Project{}, err
	}
	fp, ok := doc.Projects[id]
	if !ok {
		return ledger.Project{}, ErrNotFound
	}
	if err := fn(fp); err != nil {
		return ledger.Project{}, err
	}
	fp.UpdatedAt = time.Now().UTC()
	if err := f.save(doc); err != nil {
		return ledger.Project{}, err
	}
	return toProject(id, fp)
}

func (fp *fileProject) setHistory(entries []ledger.SpendEntry) error {
	if entries == nil {
		entries = []ledger.SpendEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	fp.History = raw
	return nil
}

func toProject(id string, fp *fileProject) (ledger.Project, error) {
	history, err := ledger.Normalize(fp.History, time.Now())
	if err != nil {
		return ledger.Project{}, fmt.Errorf("normalize history for %s: %w", id, err)
	}
	status := ledger.Status(fp.Status)
	if !ledger.ValidStatus(status) {
		status = ledger.StatusActive
	}
	return ledger.Project{
		ID:          id,
		Name:        fp.Name,
		BudgetLimit: fp.BudgetLimit,
		Spent:       fp.Spent,
		History:     history,
		Description: fp.Description,
		Status:      status,
		CreatedAt:   fp.CreatedAt,
		UpdatedAt:   fp.UpdatedAt,
	}, nil
}
