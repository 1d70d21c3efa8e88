package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/infrastructure"
	"datahub.migas.id/clearinghouse/internal/notification"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/worker"
	"datahub.migas.id/clearinghouse/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Store       *repository.Store
	Pools       *worker.Pools
	AuditLogger *audit.Logger
	Publisher   notification.Publisher
	Notifier    *notification.Triggers
}

// NewInfrastructure opens the database, worker pools and the event
// publisher, then wires lifecycle notifications through them.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		VerifyPoolSize:  cfg.Worker.VerifyPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	publisher, err := newPublisher(ctx, cfg.Events)
	if err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init event publisher: %w", err)
	}

	dispatcher := domain.NewEventDispatcher()
	dispatcher.RegisterAll(notification.Handler(publisher))

	return &Infrastructure{
		Config:      cfg,
		DB:          db,
		Store:       db.Store,
		Pools:       pools,
		AuditLogger: audit.NewLogger(db.Store),
		Publisher:   publisher,
		Notifier:    notification.NewTriggers(dispatcher, pools),
	}, nil
}

// newPublisher connects to JetStream when events are enabled.
func newPublisher(ctx context.Context, cfg config.EventsConfig) (notification.Publisher, error) {
	if !cfg.Enabled {
		logger.Info("Event publishing disabled")
		return notification.NoopPublisher{}, nil
	}
	pub, err := notification.NewJetStreamPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Event publishing enabled",
		zap.String("stream", cfg.Stream),
		zap.String("subject_prefix", cfg.SubjectPrefix),
	)
	return pub, nil
}

// InitRiver initializes the River client on top of a prepared worker
// registry. On SQLite it does nothing: jobs run through the CLI instead.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if !i.DB.SupportsRiver() {
		logger.Info("River disabled for driver; run chctl sweep and chctl verify on a schedule",
			zap.String("driver", i.DB.Driver()),
		)
		return nil
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Publisher != nil {
		if err := i.Publisher.Close(); err != nil {
			logger.Warn("event publisher close failed", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
