// Package jobs defines the River periodic maintenance jobs.
//
// Jobs carry no payload: each run works from the current database state, so
// a skipped or repeated run is harmless.
package jobs

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/governance/verification"
)

// UploadSweeper fails uploads that never completed.
type UploadSweeper interface {
	SweepStale(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
}

// LicenseExpirer expires licenses past their end date.
type LicenseExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// ChainVerifier checks every audit chain.
type ChainVerifier interface {
	VerifyAll(ctx context.Context) ([]verification.Result, error)
}

// uniqueWithin allows one job of a kind per period.
func uniqueWithin(period time.Duration) river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: period,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// PeriodicJobs returns the maintenance schedule. Sweeps run every
// SweepInterval and chain verification every VerifyInterval, each once on
// startup too.
func PeriodicJobs(cfg config.RiverConfig) []*river.PeriodicJob {
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Hour
	}
	verify := cfg.VerifyInterval
	if verify <= 0 {
		verify = 24 * time.Hour
	}
	opts := &river.PeriodicJobOpts{RunOnStart: true}

	return []*river.PeriodicJob{
		river.NewPeriodicJob(river.PeriodicInterval(sweep), func() (river.JobArgs, *river.InsertOpts) {
			return UploadStaleSweepArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(sweep), func() (river.JobArgs, *river.InsertOpts) {
			return LicenseExpirySweepArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(verify), func() (river.JobArgs, *river.InsertOpts) {
			return AuditChainVerifyArgs{}, nil
		}, opts),
	}
}
