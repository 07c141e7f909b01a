// Package monitoring gathers operational metrics for the /metrics endpoint.
package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/coherence"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsPartial   int     `json:"runs_partial"`
	RunsFailed    int     `json:"runs_failed"`
	RunsQueued    int     `json:"runs_queued"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`
	RunCostUSD    float64 `json:"run_cost_usd"`
	AvgCoherence  float64 `json:"avg_coherence_score"`
	AvgTokens     int64   `json:"avg_tokens"`
	WarningsTotal int     `json:"warnings_total"`

	// Credit consumption across all organizations.
	CreditsAllocated int64 `json:"credits_allocated"`
	CreditsUsed      int64 `json:"credits_used"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CreditTotaler abstracts the ledger aggregate the collector needs.
type CreditTotaler interface {
	Totals(ctx context.Context) (allocation, used int64, err error)
}

// Collector gathers metrics from the store and the credit ledger.
type Collector struct {
	store   store.Store
	credits CreditTotaler
}

// NewCollector creates a new metrics collector. credits may be nil when the
// deployment runs without a ledger (sqlite local mode).
func NewCollector(st store.Store, credits CreditTotaler) *Collector {
	return &Collector{store: st, credits: credits}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalCost float64
	var totalScore float64
	var totalTokens int64
	var scoredRuns int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusPartial:
			snap.RunsPartial++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		totalCost += r.TotalCostUSD
		totalTokens += r.TotalTokens
		snap.WarningsTotal += len(r.EarlyWarnings)

		if score, ok := coherenceScore(&r); ok {
			totalScore += float64(score)
			scoredRuns++
		}
	}

	snap.RunCostUSD = totalCost
	if snap.RunsTotal > 0 {
		finished := snap.RunsComplete + snap.RunsPartial + snap.RunsFailed
		if finished > 0 {
			snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
		}
		snap.AvgTokens = totalTokens / int64(snap.RunsTotal)
	}
	if scoredRuns > 0 {
		snap.AvgCoherence = totalScore / float64(scoredRuns)
	}

	if c.credits != nil {
		allocation, used, err := c.credits.Totals(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: credit totals")
		}
		snap.CreditsAllocated = allocation
		snap.CreditsUsed = used
	}

	return snap, nil
}

// coherenceScore pulls the coherence score out of a run's recorded results.
func coherenceScore(run *model.AnalysisRun) (int, bool) {
	res, ok := run.Results[model.AgentCoherence]
	if !ok || !res.Success || len(res.Data) == 0 {
		return 0, false
	}
	var report coherence.Report
	if err := json.Unmarshal(res.Data, &report); err != nil {
		return 0, false
	}
	return report.CoherenceScore, true
}
