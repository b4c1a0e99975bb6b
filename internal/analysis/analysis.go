// Package analysis holds the pure budget arithmetic: remaining budget,
// mean spending rate, linear overspend projection, anomaly detection and
// the recommendation rules. Everything here is deterministic given its
// inputs and does no I/O.
package analysis

import (
	"fmt"
	"math"
)

// anomalyMultiplier scales the standard deviation when deriving the
// anomaly threshold.
const anomalyMultiplier = 2.0

// Inputs are the resolved numeric inputs for one analysis.
type Inputs struct {
	BudgetLimit float64
	Spent       float64
	Amounts     []float64
}

// Anomaly flags one history entry that sits above the spending threshold.
type Anomaly struct {
	Index     int     `json:"index"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Deviation float64 `json:"deviation"`
}

// Result is the full analyzer output. SpendingRate is nil when the
// history is empty.
type Result struct {
	Remaining         float64   `json:"remaining"`
	SpendingRate      *float64  `json:"spending_rate"`
	PredictedSpending float64   `json:"predicted_spending"`
	OvershootRisk     bool      `json:"overshoot_risk"`
	Anomalies         []Anomaly `json:"anomalies"`
	Recommendations   []string  `json:"recommendations"`
}

// Analyze computes the budget report for the given inputs. Spent may
// exceed BudgetLimit (an already-overspent ledger is a valid state);
// negative values are rejected.
func Analyze(in Inputs) (Result, error) {
	if in.BudgetLimit < 0 || in.Spent < 0 {
		return Result{}, &InvalidInputError{
			Reason: fmt.Sprintf("budget limit and spent amount must be non-negative (limit=%v spent=%v)", in.BudgetLimit, in.Spent),
		}
	}

	res := Result{
		Remaining:         in.BudgetLimit - in.Spent,
		PredictedSpending: in.Spent,
	}

	if len(in.Amounts) > 0 {
		rate := round2(mean(in.Amounts))
		res.SpendingRate = &rate
		// The projection horizon equals the number of periods observed;
		// clients depend on these exact figures.
		res.PredictedSpending = round2(in.Spent + rate*float64(len(in.Amounts)))
		res.OvershootRisk = res.PredictedSpending > in.BudgetLimit
	}

	res.Anomalies = detectAnomalies(in.Amounts)
	res.Recommendations = recommendations(res.Remaining, in.BudgetLimit, res.PredictedSpending, res.OvershootRisk, res.SpendingRate)
	return res, nil
}

// detectAnomalies flags entries strictly above mean + 2*std (population
// deviation). Histories of two or fewer entries carry too little signal
// and yield none.
func detectAnomalies(amounts []float64) []Anomaly {
	if len(amounts) <= 2 {
		return nil
	}
	m := mean(amounts)
	std := populationStdDev(amounts, m)
	threshold := m + anomalyMultiplier*std

	var out []Anomaly
	for i, v := range amounts {
		if v > threshold {
			out = append(out, Anomaly{
				Index:     i,
				Value:     v,
				Threshold: threshold,
				Deviation: v - threshold,
			})
		}
	}
	return out
}

// recommendations builds the ordered advice list. Overshoot directives
// come first, followed by a tier chosen from the remaining fraction of
// the budget.
func recommendations(remaining, limit, predicted float64, overshoot bool, rate *float64) []string {
	var out []string

	if overshoot {
		out = append(out,
			fmt.Sprintf("High risk: predicted spending (%.2f) exceeds the budget limit (%.2f)", predicted, limit),
			"Reduce upcoming spending by 10-20%",
		)
		if rate != nil && *rate > 0 {
			periods := (predicted - limit) / *rate
			out = append(out, fmt.Sprintf("Consider pausing low-priority expenses for approximately %d periods", int(periods)))
		}
		out = append(out,
			"Reallocate budget from non-essential categories",
			"Review and prioritize critical expenses only",
		)
	}

	var fraction float64
	if limit > 0 {
		fraction = remaining / limit
	}
	switch {
	case fraction < 0.2:
		out = append(out,
			fmt.Sprintf("Warning: only %.1f%% of budget remaining", fraction*100),
			"Monitor spending closely and avoid unnecessary expenses",
		)
	case fraction < 0.5:
		out = append(out,
			fmt.Sprintf("Moderate budget remaining (%.1f%%)", fraction*100),
			"Continue monitoring spending patterns",
		)
	default:
		out = append(out,
			fmt.Sprintf("Good budget health: %.1f%% remaining", fraction*100),
			"Continue current spending patterns",
		)
	}
	return out
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64, m float64) float64 {
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
