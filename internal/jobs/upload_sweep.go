package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// DefaultUploadStaleAfter is how long an upload may stay INITIATED.
const DefaultUploadStaleAfter = 24 * time.Hour

// UploadStaleSweepArgs fails uploads stuck in INITIATED.
type UploadStaleSweepArgs struct{}

// Kind returns the job kind identifier.
func (UploadStaleSweepArgs) Kind() string { return "upload_stale_sweep" }

// InsertOpts allows one sweep per hour.
func (UploadStaleSweepArgs) InsertOpts() river.InsertOpts { return uniqueWithin(time.Hour) }

// UploadStaleSweepWorker runs the stale upload sweep.
type UploadStaleSweepWorker struct {
	river.WorkerDefaults[UploadStaleSweepArgs]
	uploads    UploadSweeper
	staleAfter time.Duration
	now        func() time.Time
}

// NewUploadStaleSweepWorker creates the worker. Non-positive staleAfter falls
// back to DefaultUploadStaleAfter.
func NewUploadStaleSweepWorker(uploads UploadSweeper, staleAfter time.Duration) *UploadStaleSweepWorker {
	if staleAfter <= 0 {
		staleAfter = DefaultUploadStaleAfter
	}
	return &UploadStaleSweepWorker{uploads: uploads, staleAfter: staleAfter, now: time.Now}
}

// Work fails every stale upload.
func (w *UploadStaleSweepWorker) Work(ctx context.Context, _ *river.Job[UploadStaleSweepArgs]) error {
	if w == nil || w.uploads == nil {
		return fmt.Errorf("upload stale sweep worker is not initialized")
	}

	now := w.now().UTC()
	n, err := w.uploads.SweepStale(ctx, now, w.staleAfter)
	if err != nil {
		return fmt.Errorf("sweep stale uploads: %w", err)
	}

	logger.Named("jobs.upload_stale").Info("upload stale sweep completed",
		zap.Int("failed_uploads", n),
		zap.Duration("stale_after", w.staleAfter),
	)
	return nil
}
