// Package cache defines the memoisation contract for analyzer results.
// Entries are never invalidated automatically: a fingerprint is only ever
// recomputed when the exact same inputs recur, and mutating requests
// bypass the cache entirely. The interface exists so a bounded or TTL
// cache could replace the stored one without touching the orchestrator.
package cache

import (
	"context"
	"strconv"
	"strings"

	"github.com/trackon/budgetd/internal/analysis"
)

// historyPrefixLen bounds the number of amounts folded into a
// fingerprint. Long histories share keys beyond this prefix; the small
// collision risk is an accepted tradeoff for bounded key length.
const historyPrefixLen = 5

// Cache memoises analyzer results keyed by fingerprint. Put overwrites
// unconditionally; there is no eviction policy, expiry or size bound. Both
// store backends satisfy it directly.
type Cache interface {
	GetCachedAnalysis(ctx context.Context, key string) (analysis.Result, bool, error)
	PutCachedAnalysis(ctx context.Context, projectID, key string, res analysis.Result) error
}

// Fingerprint derives the deterministic, order-sensitive cache key for an
// analysis request. Format:
//
//	{project}:{operation}:{limit}:{spent}:{a0,a1,...}
//
// with "no_history" standing in for an empty amount list.
func Fingerprint(projectID, operation string, budgetLimit, spent float64, amounts []float64) string {
	history := "no_history"
	if len(amounts) > 0 {
		n := len(amounts)
		if n > historyPrefixLen {
			n = historyPrefixLen
		}
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = formatAmount(amounts[i])
		}
		history = strings.Join(parts, ",")
	}
	return strings.Join([]string{
		projectID,
		operation,
		formatAmount(budgetLimit),
		formatAmount(spent),
		history,
	}, ":")
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
