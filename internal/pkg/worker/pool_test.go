package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPools(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	if pools.General == nil {
		t.Error("General pool is nil")
	}
	if pools.Verify == nil {
		t.Error("Verify pool is nil")
	}
}

func TestNewPools_NonPositiveSizesFallBack(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	m := pools.Metrics()
	if got := m[PoolGeneral].(map[string]int)["cap"]; got != DefaultPoolConfig().GeneralPoolSize {
		t.Errorf("general cap = %d, want %d", got, DefaultPoolConfig().GeneralPoolSize)
	}
	if got := m[PoolVerify].(map[string]int)["cap"]; got != DefaultPoolConfig().VerifyPoolSize {
		t.Errorf("verify cap = %d, want %d", got, DefaultPoolConfig().VerifyPoolSize)
	}
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 10, VerifyPoolSize: 2})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err = pools.General.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	wg.Wait()
	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()

	err = pools.Verify.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("Task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

// cancelAfterFirstCheck reports Done only from the second call on, so a task
// passes Submit's pre-check and is cancelled while queued.
type cancelAfterFirstCheck struct {
	context.Context
	calls  atomic.Int32
	closed chan struct{}
}

func newCancelAfterFirstCheck() *cancelAfterFirstCheck {
	c := &cancelAfterFirstCheck{Context: context.Background(), closed: make(chan struct{})}
	close(c.closed)
	return c
}

func (c *cancelAfterFirstCheck) Done() <-chan struct{} {
	if c.calls.Add(1) == 1 {
		return nil
	}
	return c.closed
}

func (c *cancelAfterFirstCheck) Err() error {
	if c.calls.Load() > 1 {
		return context.Canceled
	}
	return nil
}

func TestPool_SubmitTracked(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 2, VerifyPoolSize: 2})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		if err := pools.Verify.SubmitTracked(context.Background(), &wg, func(ctx context.Context) {
			ran.Add(1)
		}); err != nil {
			t.Fatalf("SubmitTracked() error = %v", err)
		}
	}
	wg.Wait()
	if got := ran.Load(); got != 5 {
		t.Errorf("ran = %d, want 5", got)
	}
}

func TestPool_SubmitTracked_SkippedTaskReleasesWaitGroup(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 2, VerifyPoolSize: 2})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	var wg sync.WaitGroup
	err = pools.Verify.SubmitTracked(newCancelAfterFirstCheck(), &wg, func(ctx context.Context) {
		t.Error("Task should be skipped once the context is cancelled")
	})
	if err != nil {
		t.Fatalf("SubmitTracked() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("WaitGroup not released for skipped task")
	}
}

func TestPool_SubmitTracked_Rejected(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	pools.Shutdown()

	var wg sync.WaitGroup
	err = pools.Verify.SubmitTracked(context.Background(), &wg, func(ctx context.Context) {})
	if err != ErrPoolClosed {
		t.Errorf("SubmitTracked() error = %v, want ErrPoolClosed", err)
	}
	wg.Wait()
}

func TestPool_Submit_AfterShutdown(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	pools.Shutdown()

	err = pools.General.Submit(context.Background(), func(ctx context.Context) {})
	if err != ErrPoolClosed {
		t.Errorf("Submit() error = %v, want ErrPoolClosed", err)
	}
}

func TestPools_SubmitDetached(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
	}{
		{"general pool", PoolGeneral},
		{"verify pool", PoolVerify},
		{"default fallback", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools, err := NewPools(context.Background(), DefaultPoolConfig())
			if err != nil {
				t.Fatalf("NewPools() error = %v", err)
			}

			var executed atomic.Bool
			var wg sync.WaitGroup
			wg.Add(1)

			err = pools.SubmitDetached(tt.poolName, func(ctx context.Context) {
				executed.Store(true)
				wg.Done()
			})
			if err != nil {
				t.Fatalf("SubmitDetached(%q) error = %v", tt.poolName, err)
			}

			wg.Wait()
			pools.Shutdown()

			if !executed.Load() {
				t.Errorf("SubmitDetached(%q) task was not executed", tt.poolName)
			}
		})
	}
}

func TestPools_Metrics(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 10, VerifyPoolSize: 3})
	if err != nil {
		t.Fatalf("NewPools() error = %v", err)
	}
	defer pools.Shutdown()

	metrics := pools.Metrics()
	general, ok := metrics[PoolGeneral].(map[string]int)
	if !ok {
		t.Fatal("general metrics not found or wrong type")
	}
	if general["cap"] != 10 {
		t.Errorf("general cap = %d, want 10", general["cap"])
	}

	verify, ok := metrics[PoolVerify].(map[string]int)
	if !ok {
		t.Fatal("verify metrics not found or wrong type")
	}
	if verify["cap"] != 3 {
		t.Errorf("verify cap = %d, want 3", verify["cap"])
	}
}
