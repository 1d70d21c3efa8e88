// Package app is the composition root. Bootstrap stays orchestration-only:
// services are built by modules, HTTP wiring lives in router.go.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"datahub.migas.id/clearinghouse/internal/api/handlers"
	"datahub.migas.id/clearinghouse/internal/app/modules"
	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/infrastructure"
	"datahub.migas.id/clearinghouse/internal/jobs"
	"datahub.migas.id/clearinghouse/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Infra   *modules.Infrastructure
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	governance, err := modules.NewGovernanceModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init governance module: %w", err)
	}
	allModules := []modules.Module{governance}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers, jobs.PeriodicJobs(cfg.River)); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	serverDeps := modules.NewServerDeps(cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, serverDeps.JWTCfg),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Infra:   infra,
		Modules: allModules,
	}, nil
}
