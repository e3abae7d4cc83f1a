package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/montecarlo/metrics"
)

func TestPoolRunsTasksAcrossCalls(t *testing.T) {
	p := NewPool(WithName("test"), WithSize(4), WithQueueSize(8))
	defer p.Stop()

	if p.Size() != 4 {
		t.Fatalf("Size() = %d", p.Size())
	}

	// 同一个池连续服务多轮任务，不在轮次之间重建。
	for round := range 3 {
		var wg sync.WaitGroup
		var done atomic.Int32
		for range 20 {
			wg.Add(1)
			if err := p.Submit(context.Background(), func(context.Context) {
				defer wg.Done()
				done.Add(1)
			}); err != nil {
				t.Fatalf("round %d submit: %v", round, err)
			}
		}
		wg.Wait()
		if done.Load() != 20 {
			t.Fatalf("round %d ran %d tasks", round, done.Load())
		}
	}
	if p.Active() != 4 {
		t.Fatalf("Active() = %d after reuse, want 4", p.Active())
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	recovered := make(chan any, 1)
	p := NewPool(WithSize(1), WithPanicHandler(func(r any) { recovered <- r }))
	defer p.Stop()

	if err := p.Submit(context.Background(), func(context.Context) { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-recovered:
		if r != "boom" {
			t.Fatalf("recovered %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic handler not called")
	}

	ran := make(chan struct{})
	if err := p.Submit(context.Background(), func(context.Context) { close(ran) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool(WithSize(2))
	p.Stop()
	p.Stop()

	if !p.Closed() {
		t.Fatal("Closed() = false after Stop")
	}
	if err := p.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Submit() = %v, want ErrPoolClosed", err)
	}
	if err := p.TrySubmit(func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("TrySubmit() = %v, want ErrPoolClosed", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}
}

func TestSubmitHonoursContext(t *testing.T) {
	p := NewPool(WithSize(1), WithQueueSize(0))
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit() = %v, want deadline exceeded", err)
	}
	if err := p.TrySubmit(func(context.Context) {}); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("TrySubmit() = %v, want ErrPoolFull", err)
	}
	close(release)
}

func TestPoolMetrics(t *testing.T) {
	m := metrics.NewMetrics("worker-test")
	p := NewPool(WithName("metered"), WithSize(3), WithMetrics(m))

	if got := testutil.ToFloat64(p.metrics.activeWorkers); got != 3 {
		t.Fatalf("active gauge = %v, want 3", got)
	}
	p.Stop()
	if got := testutil.ToFloat64(p.metrics.activeWorkers); got != 0 {
		t.Fatalf("active gauge after stop = %v, want 0", got)
	}
}
