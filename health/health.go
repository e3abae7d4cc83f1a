// Package health 汇总服务依赖的健康状态。关键检查失败视为服务不可用，可选检查失败仅标记为降级。
package health

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/wyfcoding/montecarlo/worker"
)

const defaultTimeout = 2 * time.Second

// 探测结果状态。
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Checker 定义健康检查函数原型。
type Checker func(ctx context.Context) error

// PoolChecker 返回 worker 池健康检查函数，池停止后失败。
func PoolChecker(pool *worker.Pool) Checker {
	return func(context.Context) error {
		if pool == nil {
			return errors.New("worker pool is nil")
		}
		if pool.Closed() {
			return worker.ErrPoolClosed
		}
		return nil
	}
}

// RedisChecker 返回 Redis 健康检查函数。
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	}
}

type check struct {
	fn       Checker
	critical bool
}

// Probe 持有一组命名检查，Check 并发执行它们。
type Probe struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
}

// NewProbe 创建探针。timeout 为单次 Check 的总超时，<= 0 时取 2s。
func NewProbe(timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Probe{checks: make(map[string]check), timeout: timeout}
}

// AddCritical 注册关键检查。
func (p *Probe) AddCritical(name string, fn Checker) {
	p.add(name, fn, true)
}

// AddOptional 注册可选检查。
func (p *Probe) AddOptional(name string, fn Checker) {
	p.add(name, fn, false)
}

func (p *Probe) add(name string, fn Checker, critical bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks[name] = check{fn: fn, critical: critical}
}

// Result 一次探测的汇总。Checks 中成功项为 "ok"，失败项为错误信息。
type Result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Check 并发执行全部检查并汇总状态。
func (p *Probe) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.RLock()
	checks := maps.Clone(p.checks)
	p.mu.RUnlock()

	errs := make(map[string]error, len(checks))
	var (
		mu sync.Mutex
		wg conc.WaitGroup
	)
	for name, c := range checks {
		wg.Go(func() {
			var err error
			// 检查函数 panic 视为该项检查失败。
			if r := panics.Try(func() { err = c.fn(ctx) }); r != nil {
				err = r.AsError()
			}
			mu.Lock()
			errs[name] = err
			mu.Unlock()
		})
	}
	wg.Wait()

	res := Result{Status: StatusUp, Checks: make(map[string]string, len(checks))}
	for _, name := range slices.Sorted(maps.Keys(errs)) {
		err := errs[name]
		if err == nil {
			res.Checks[name] = "ok"
			continue
		}
		res.Checks[name] = err.Error()
		switch {
		case checks[name].critical:
			res.Status = StatusDown
		case res.Status == StatusUp:
			res.Status = StatusDegraded
		}
	}
	return res
}
