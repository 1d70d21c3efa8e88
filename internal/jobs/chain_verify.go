package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/governance/verification"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// AuditChainVerifyArgs verifies every audit hash chain.
type AuditChainVerifyArgs struct{}

// Kind returns the job kind identifier.
func (AuditChainVerifyArgs) Kind() string { return "audit_chain_verify" }

// InsertOpts allows one verification per day. A broken chain is not retried:
// the result is already recorded and retrying would find the same break.
func (AuditChainVerifyArgs) InsertOpts() river.InsertOpts {
	opts := uniqueWithin(24 * time.Hour)
	opts.MaxAttempts = 1
	return opts
}

// AuditChainVerifyWorker runs chain verification.
type AuditChainVerifyWorker struct {
	river.WorkerDefaults[AuditChainVerifyArgs]
	verifier ChainVerifier
}

// NewAuditChainVerifyWorker creates the worker.
func NewAuditChainVerifyWorker(verifier ChainVerifier) *AuditChainVerifyWorker {
	return &AuditChainVerifyWorker{verifier: verifier}
}

// Timeout lifts River's default one-minute job timeout; large chains take longer.
func (w *AuditChainVerifyWorker) Timeout(*river.Job[AuditChainVerifyArgs]) time.Duration {
	return time.Hour
}

// Work verifies the chains. Broken chains are reported through the runner
// and do not fail the job.
func (w *AuditChainVerifyWorker) Work(ctx context.Context, _ *river.Job[AuditChainVerifyArgs]) error {
	if w == nil || w.verifier == nil {
		return fmt.Errorf("audit chain verify worker is not initialized")
	}

	results, err := w.verifier.VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("verify audit chains: %w", err)
	}

	fields := []zap.Field{zap.Bool("broken", verification.Broken(results))}
	for _, res := range results {
		fields = append(fields, zap.Int64(res.Report.Chain+"_checked", res.Report.Checked))
	}
	logger.Named("jobs.audit_chain_verify").Info("audit chain verification completed", fields...)
	return nil
}
