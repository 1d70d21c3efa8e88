// Package worker provides goroutine pool management.
//
// Naked goroutines are not used in request or job paths: concurrency goes
// through a Pool with context propagation.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names accepted by SubmitDetached.
const (
	PoolGeneral = "general"
	PoolVerify  = "verify"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the Worker pool collection.
type Pools struct {
	// General runs detached side effects (event publishing, best-effort audit writes).
	General *Pool
	// Verify runs hash-chain verification scans, one task per chain.
	Verify *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains Worker Pool configuration.
type PoolConfig struct {
	GeneralPoolSize int
	VerifyPoolSize  int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize: 64,
		VerifyPoolSize:  4,
	}
}

// NewPools creates Worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	def := DefaultPoolConfig()
	if cfg.GeneralPoolSize <= 0 {
		cfg.GeneralPoolSize = def.GeneralPoolSize
	}
	if cfg.VerifyPoolSize <= 0 {
		cfg.VerifyPoolSize = def.VerifyPoolSize
	}

	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	verifyAnts, err := ants.NewPool(cfg.VerifyPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(time.Minute), // chain scans are long-lived
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: PoolGeneral},
		Verify:        &Pool{pool: verifyAnts, name: PoolVerify},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Submit submits a context-aware task.
// If the context is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	return p.submit(ctx, task, nil)
}

// SubmitTracked is Submit with WaitGroup accounting. wg.Done runs exactly once
// whether the task executes, is skipped while queued, or is never accepted.
func (p *Pool) SubmitTracked(ctx context.Context, wg *sync.WaitGroup, task Task) error {
	wg.Add(1)
	err := p.submit(ctx, task, wg.Done)
	if err != nil {
		wg.Done()
	}
	return err
}

func (p *Pool) submit(ctx context.Context, task Task, after func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		if after != nil {
			defer after()
		}
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached submits a background task bound to the service lifecycle
// context instead of a request context. It survives request cancellation but
// still stops at graceful shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == PoolVerify {
		pool = p.Verify
	}

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", pool.name),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown cancels the service context, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Verify.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Verify pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		PoolGeneral: map[string]int{
			"running": p.General.pool.Running(),
			"free":    p.General.pool.Free(),
			"cap":     p.General.pool.Cap(),
		},
		PoolVerify: map[string]int{
			"running": p.Verify.pool.Running(),
			"free":    p.Verify.pool.Free(),
			"cap":     p.Verify.pool.Cap(),
		},
	}
}
