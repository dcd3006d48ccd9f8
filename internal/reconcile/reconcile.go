// Package reconcile compares record counts across the sync stages: the
// source spreadsheet, the store and the serving layer. It never writes.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"catalogsync/internal/observability"
)

const DefaultTolerance = 5

// Counter reports how many catalog records one stage holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type CounterFunc func(ctx context.Context) (int, error)

func (f CounterFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

type Stage struct {
	Name    string
	Counter Counter
}

type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type Report struct {
	CheckedAt   time.Time    `json:"checkedAt"`
	Tolerance   int          `json:"tolerance"`
	Counts      []StageCount `json:"counts"`
	Consistent  bool         `json:"consistent"`
	Messages    []string     `json:"messages"`
	Remediation []string     `json:"remediation,omitempty"`
}

var remediation = []string{
	"Re-run the catalog sync and check the per-batch failures in its result.",
	"Check the skipped rows of the last sync for invalid codes or short rows.",
	"Run catalog:prune to remove stored records whose code is no longer valid.",
	"Confirm the serving layer reads the same products table and is not serving a stale cache.",
}

type Reconciler struct {
	stages    []Stage
	tolerance int
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a reconciler over stages, compared pairwise in order. A
// negative tolerance selects DefaultTolerance.
func New(tolerance int, logger *zap.Logger, stages ...Stage) *Reconciler {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{stages: stages, tolerance: tolerance, logger: logger, now: time.Now}
}

// Run counts every stage and compares each pair. Two counts are consistent
// when they differ by at most the tolerance. A stage that cannot be counted
// makes the report inconsistent.
func (r *Reconciler) Run(ctx context.Context) Report {
	rep := Report{CheckedAt: r.now().UTC(), Tolerance: r.tolerance, Consistent: true}

	for _, st := range r.stages {
		n, err := st.Counter.Count(ctx)
		sc := StageCount{Stage: st.Name, Count: n}
		if err != nil {
			sc.Error = err.Error()
			rep.Consistent = false
			rep.Messages = append(rep.Messages, fmt.Sprintf("✗ %s could not be counted: %v", st.Name, err))
		}
		rep.Counts = append(rep.Counts, sc)
	}

	discrepancies := 0
	for i := 0; i < len(rep.Counts); i++ {
		for j := i + 1; j < len(rep.Counts); j++ {
			a, b := rep.Counts[i], rep.Counts[j]
			if a.Error != "" || b.Error != "" {
				continue
			}
			diff := a.Count - b.Count
			if diff < 0 {
				diff = -diff
			}
			if diff > r.tolerance {
				discrepancies++
				rep.Consistent = false
				rep.Messages = append(rep.Messages, fmt.Sprintf("✗ %s (%d) vs %s (%d): difference %d exceeds tolerance %d",
					a.Stage, a.Count, b.Stage, b.Count, diff, r.tolerance))
			}
		}
	}
	observability.ReconcileDiscrepancies.Set(float64(discrepancies))

	if rep.Consistent {
		rep.Messages = []string{fmt.Sprintf("✓ all stages consistent (tolerance %d)", r.tolerance)}
	} else {
		rep.Remediation = remediation
		r.logger.Warn("catalog counts inconsistent", zap.Strings("messages", rep.Messages))
	}
	return rep
}
