// Package verification checks every audit hash chain.
package verification

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/integrity"
	"datahub.migas.id/clearinghouse/internal/notification"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/metrics"
	"datahub.migas.id/clearinghouse/internal/pkg/worker"
	"datahub.migas.id/clearinghouse/internal/repository"
)

// Result is the outcome of one chain.
type Result struct {
	Report integrity.Report `json:"report"`
	Error  string           `json:"error,omitempty"`
}

// Runner verifies chains, one task per chain on the verify pool.
type Runner struct {
	store       *repository.Store
	pools       *worker.Pools // nil runs chains one after another
	auditLogger *audit.Logger
	notifier    *notification.Triggers
}

// NewRunner creates a new Runner.
func NewRunner(store *repository.Store, pools *worker.Pools, auditLogger *audit.Logger, notifier *notification.Triggers) *Runner {
	return &Runner{store: store, pools: pools, auditLogger: auditLogger, notifier: notifier}
}

// VerifyAll checks every chain and returns results in domain.Chains order.
// Broken chains are recorded as CRITICAL compliance events.
func (r *Runner) VerifyAll(ctx context.Context) ([]Result, error) {
	results := make([]Result, len(domain.Chains))

	if r.pools == nil {
		for i, chain := range domain.Chains {
			results[i] = r.verify(ctx, chain)
		}
		return results, nil
	}

	var wg sync.WaitGroup
	for i, chain := range domain.Chains {
		i, chain := i, chain
		err := r.pools.Verify.SubmitTracked(ctx, &wg, func(ctx context.Context) {
			results[i] = r.verify(ctx, chain)
		})
		if err != nil {
			wg.Wait()
			return nil, fmt.Errorf("schedule verification of %s: %w", chain, err)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verify chains: %w", err)
	}
	return results, nil
}

// Verify checks one chain.
func (r *Runner) Verify(ctx context.Context, chain string) (Result, error) {
	for _, c := range domain.Chains {
		if c == chain {
			return r.verify(ctx, chain), nil
		}
	}
	return Result{}, fmt.Errorf("%w: unknown chain %q", domain.ErrInvalidInput, chain)
}

func (r *Runner) verify(ctx context.Context, chain string) Result {
	report, err := r.store.VerifyChain(ctx, chain)
	metrics.ObserveVerification(chain, report, err)
	if err != nil {
		logger.Error("Chain verification failed to run", zap.String("chain", chain), zap.Error(err))
		return Result{Report: integrity.Report{Chain: chain}, Error: err.Error()}
	}

	if !report.Valid {
		logger.Error("Audit chain integrity violation",
			zap.String("chain", chain),
			zap.Int64("broken_at", report.BrokenAt),
			zap.String("reason", string(report.Reason)),
			zap.String("detail", report.Detail),
		)
		r.auditLogger.LogChainBroken(ctx, report)
		r.notifier.OnChainBroken(ctx, report)
		return Result{Report: report}
	}

	logger.Info("Audit chain verified",
		zap.String("chain", chain),
		zap.Int64("checked", report.Checked),
		zap.Int64("head_sequence", report.HeadSequence),
	)
	return Result{Report: report}
}

// Broken reports whether any result is invalid or failed to run.
func Broken(results []Result) bool {
	for _, res := range results {
		if res.Error != "" || !res.Report.Valid {
			return true
		}
	}
	return false
}
