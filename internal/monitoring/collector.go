// Package monitoring watches the health of recorded analysis runs and
// posts webhook alerts when failure or degradation rates climb.
package monitoring

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/store"
)

// maxSnapshotRuns caps the runs read for one snapshot.
const maxSnapshotRuns = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	FailureRate  float64 `json:"failure_rate"`
	DegradedRate float64 `json:"degraded_rate"`
	CostUSD      float64 `json:"cost_usd"`

	// Score statistics over scored runs.
	Scored      int                            `json:"scored"`
	MeanScore   float64                        `json:"mean_score"`
	MedianScore float64                        `json:"median_score"`
	ScoreStdDev float64                        `json:"score_stddev"`
	Categories  map[model.DecisionCategory]int `json:"categories"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store subset the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunRecord, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: maxSnapshotRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap := Summarize(runs)
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = now
	return snap, nil
}

// Summarize computes the run counts, rates and score statistics of runs.
func Summarize(runs []model.RunRecord) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		Total:      len(runs),
		Categories: make(map[model.DecisionCategory]int),
	}

	var scores stats.Float64Data
	for _, r := range runs {
		switch r.Status {
		case model.OutcomeSucceeded:
			snap.Succeeded++
		case model.OutcomeDegraded:
			snap.Degraded++
		case model.OutcomeFailed:
			snap.Failed++
		case model.OutcomeCancelled:
			snap.Cancelled++
		}
		snap.CostUSD += r.TotalCost
		if r.Score != nil {
			scores = append(scores, *r.Score)
			snap.Categories[r.Category]++
		}
	}

	// Cancelled runs say nothing about provider health.
	if finished := snap.Total - snap.Cancelled; finished > 0 {
		snap.FailureRate = float64(snap.Failed) / float64(finished)
		snap.DegradedRate = float64(snap.Degraded) / float64(finished)
	}

	snap.Scored = len(scores)
	if len(scores) > 0 {
		snap.MeanScore, _ = scores.Mean()
		snap.MedianScore, _ = scores.Median()
		snap.ScoreStdDev, _ = scores.StandardDeviation()
	}
	return snap
}
