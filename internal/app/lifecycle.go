package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// riverStopTimeout bounds the soft stop; running sweeps are then cancelled.
const riverStopTimeout = 20 * time.Second

// Start launches River when the database supports it. On SQLite it only
// logs, since sweeps and verification are driven by chctl.
func (a *Application) Start(ctx context.Context) error {
	if a.DB == nil || a.DB.RiverClient == nil {
		logger.Info("No job queue; schedule chctl sweep and chctl verify externally")
		return nil
	}
	if err := a.DB.RiverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Info("River client started, periodic sweeps and chain verification scheduled")
	return nil
}

// Shutdown stops River, then modules, then releases infrastructure. Worker
// pools drain before the event publisher closes so queued events still go out.
func (a *Application) Shutdown() {
	a.stopRiver()

	ctx := context.Background()
	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	switch {
	case a.Infra != nil:
		a.Infra.Close()
	default:
		if a.Pools != nil {
			a.Pools.Shutdown()
		}
		if a.DB != nil {
			a.DB.Close()
		}
	}
}

func (a *Application) stopRiver() {
	if a.DB == nil || a.DB.RiverClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), riverStopTimeout)
	defer cancel()

	if err := a.DB.RiverClient.Stop(ctx); err != nil {
		logger.Warn("River soft stop timed out, cancelling running jobs", zap.Error(err))
		hardCtx, hardCancel := context.WithTimeout(context.Background(), riverStopTimeout)
		defer hardCancel()
		if err := a.DB.RiverClient.StopAndCancel(hardCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
			return
		}
	}
	logger.Info("River client stopped")
}
