package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// LicenseExpirySweepArgs expires licenses past their end date.
type LicenseExpirySweepArgs struct{}

// Kind returns the job kind identifier.
func (LicenseExpirySweepArgs) Kind() string { return "license_expiry_sweep" }

// InsertOpts allows one sweep per hour.
func (LicenseExpirySweepArgs) InsertOpts() river.InsertOpts { return uniqueWithin(time.Hour) }

// LicenseExpirySweepWorker runs the license expiry sweep.
type LicenseExpirySweepWorker struct {
	river.WorkerDefaults[LicenseExpirySweepArgs]
	licenses LicenseExpirer
	now      func() time.Time
}

// NewLicenseExpirySweepWorker creates the worker.
func NewLicenseExpirySweepWorker(licenses LicenseExpirer) *LicenseExpirySweepWorker {
	return &LicenseExpirySweepWorker{licenses: licenses, now: time.Now}
}

// Work expires every due license.
func (w *LicenseExpirySweepWorker) Work(ctx context.Context, _ *river.Job[LicenseExpirySweepArgs]) error {
	if w == nil || w.licenses == nil {
		return fmt.Errorf("license expiry sweep worker is not initialized")
	}

	n, err := w.licenses.ExpireDue(ctx, w.now().UTC())
	if err != nil {
		return fmt.Errorf("expire due licenses: %w", err)
	}

	logger.Named("jobs.license_expiry").Info("license expiry sweep completed", zap.Int("expired_licenses", n))
	return nil
}
