// Package resolve decides which project a request operates on. Inputs are
// evaluated in strict priority order: an explicit project id always wins,
// a stated name is matched (and created when unknown) before any fallback,
// and only a request naming nothing at all falls back to the current
// project pointer.
package resolve

import (
	"context"
	"log"
	"strings"

	"github.com/trackon/budgetd/internal/ledger"
)

// DefaultProjectName is created when nothing identifies a project and no
// current project is set.
const DefaultProjectName = "Default Project"

// nameSuffixes are stripped from both sides of a lookup before comparing.
var nameSuffixes = []string{" project", "project", " proj", "proj", " development", "development"}

// Store is the slice of the budget store the resolver needs.
type Store interface {
	GetProject(ctx context.Context, id string) (ledger.Project, bool, error)
	ListProjects(ctx context.Context) ([]ledger.Project, error)
	CreateProject(ctx context.Context, name string, budgetLimit float64, description *string) (ledger.Project, error)
	CurrentProjectID(ctx context.Context) (string, bool, error)
	SetCurrentProject(ctx context.Context, id string) error
}

// Resolver picks or creates the project record for a request.
type Resolver struct {
	Store  Store
	Logger *log.Logger
}

func New(st Store, logger *log.Logger) *Resolver {
	return &Resolver{Store: st, Logger: logger}
}

// Resolve applies the priority chain. initialBudget seeds the budget limit
// when a named-but-unknown project has to be created. An explicit id that
// does not exist is not fatal: resolution fails over to the name, then the
// current pointer.
func (r *Resolver) Resolve(ctx context.Context, explicitID, name string, initialBudget float64) (ledger.Project, error) {
	if explicitID != "" {
		p, ok, err := r.Store.GetProject(ctx, explicitID)
		if err != nil {
			return ledger.Project{}, err
		}
		if ok {
			return p, nil
		}
		if r.Logger != nil {
			r.Logger.Printf("explicit project %q not found, falling back", explicitID)
		}
	}

	if name = strings.TrimSpace(name); name != "" {
		projects, err := r.Store.ListProjects(ctx)
		if err != nil {
			return ledger.Project{}, err
		}
		if p, ok := MatchName(projects, name); ok {
			return p, nil
		}
		// Named but unknown: create rather than silently substituting
		// some other project.
		p, err := r.Store.CreateProject(ctx, name, initialBudget, nil)
		if err != nil {
			return ledger.Project{}, err
		}
		if err := r.Store.SetCurrentProject(ctx, p.ID); err != nil {
			return ledger.Project{}, err
		}
		if r.Logger != nil {
			r.Logger.Printf("created project %s (%q)", p.ID, name)
		}
		return p, nil
	}

	if id, ok, err := r.Store.CurrentProjectID(ctx); err != nil {
		return ledger.Project{}, err
	} else if ok {
		p, found, err := r.Store.GetProject(ctx, id)
		if err != nil {
			return ledger.Project{}, err
		}
		if found {
			return p, nil
		}
	}

	p, err := r.Store.CreateProject(ctx, DefaultProjectName, 0, nil)
	if err != nil {
		return ledger.Project{}, err
	}
	if err := r.Store.SetCurrentProject(ctx, p.ID); err != nil {
		return ledger.Project{}, err
	}
	return p, nil
}

// MatchName finds the project a display name refers to. Matching proceeds
// from strictest to loosest: case-insensitive exact match, equality after
// suffix stripping, then substring containment in either direction with
// the longest overlap winning.
func MatchName(projects []ledger.Project, name string) (ledger.Project, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Project{}, false
	}

	for _, p := range projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}

	search := normalizeName(name)
	var best ledger.Project
	bestScore := 0
	for _, p := range projects {
		candidate := normalizeName(p.Name)
		if candidate == search {
			return p, true
		}
		if candidate == "" || search == "" {
			continue
		}
		if strings.Contains(candidate, search) || strings.Contains(search, candidate) {
			score := len(search)
			if len(candidate) < score {
				score = len(candidate)
			}
			if score > bestScore {
				bestScore = score
				best = p
			}
		}
	}
	if bestScore > 0 {
		return best, true
	}
	return ledger.Project{}, false
}

func normalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
		}
	}
	return s
}
