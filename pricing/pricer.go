// Package pricing 是蒙特卡洛欧式看涨期权定价的对外入口。
//
// Price 在调用方 goroutine 内单线程完成模拟；PriceParallel 借助调用方持有的常驻 worker 池
// 分块并行。两者都先校验参数，非法输入在任何模拟工作开始前以 InvalidInput 返回。
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/montecarlo/aggregate"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/rng"
	"github.com/wyfcoding/montecarlo/scheduler"
	"github.com/wyfcoding/montecarlo/tracing"
	"github.com/wyfcoding/montecarlo/worker"
	"github.com/wyfcoding/montecarlo/xerrors"
)

// Mode 定价执行方式。
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeParallel Mode = "parallel"
)

// DefaultEngine 未指定时使用的路径引擎。
const DefaultEngine = engine.KindSummation

// Pricer 携带引擎选择与可观测性依赖，可被多个 goroutine 并发使用。
type Pricer struct {
	engine  engine.PathEngine
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option 定义 Pricer 配置选项。
type Option func(*pricerOptions)

type pricerOptions struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	kind    engine.Kind
}

// WithEngine 选择路径引擎。
func WithEngine(kind engine.Kind) Option {
	return func(o *pricerOptions) {
		o.kind = kind
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(o *pricerOptions) {
		o.logger = logger
	}
}

// WithMetrics 注入指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *pricerOptions) {
		o.metrics = m
	}
}

// NewPricer 创建定价器，未知引擎返回 UnknownEngine。
func NewPricer(opts ...Option) (*Pricer, error) {
	o := pricerOptions{kind: DefaultEngine}
	for _, opt := range opts {
		opt(&o)
	}
	eng, err := engine.New(o.kind)
	if err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Pricer{engine: eng, logger: o.logger, metrics: o.metrics}, nil
}

// Engine 返回定价器使用的引擎名称。
func (pr *Pricer) Engine() engine.Kind {
	return pr.engine.Name()
}

// WithKind 返回使用另一种引擎、共享其余依赖的定价器副本。
func (pr *Pricer) WithKind(kind engine.Kind) (*Pricer, error) {
	if kind == pr.engine.Name() {
		return pr, nil
	}
	eng, err := engine.New(kind)
	if err != nil {
		return nil, err
	}
	cp := *pr
	cp.engine = eng
	return &cp, nil
}

type callOptions struct {
	seed           uint64
	seeded         bool
	workers        int
	collectTimeout time.Duration
}

// CallOption 单次定价调用的可选参数。
type CallOption func(*callOptions)

// WithSeed 固定随机种子，使结果可复现。
func WithSeed(seed uint64) CallOption {
	return func(o *callOptions) {
		o.seed = seed
		o.seeded = true
	}
}

// WithWorkers 设置并行分块数 (仅 PriceParallel)，默认等于池大小。
func WithWorkers(n int) CallOption {
	return func(o *callOptions) {
		o.workers = n
	}
}

// WithCollectTimeout 设置并行收集超时 (仅 PriceParallel)。
func WithCollectTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.collectTimeout = d
	}
}

func buildCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Price 单 worker 定价：一个随机源顺序模拟全部 I 条路径，ctx 结束时丢弃剩余路径。
func (pr *Pricer) Price(ctx context.Context, c option.Contract, r option.Resolution, opts ...CallOption) (aggregate.Result, error) {
	o := buildCallOptions(opts)
	return pr.observe(ctx, ModeSingle, c, r, func(ctx context.Context, p option.Params) (aggregate.Result, error) {
		if err := ctx.Err(); err != nil {
			return aggregate.Result{}, xerrors.Abandoned(err)
		}
		seed := o.seed
		if !o.seeded {
			seed = rng.NewSeed()
		}
		tracing.AddTag(ctx, "mc.seed", seed)

		// 分批模拟，调用方取消或超时后不再继续占用当前 goroutine。
		terminal := make([]float64, p.Paths)
		if err := engine.SimulateContext(ctx, pr.engine, terminal, p, rng.New(seed)); err != nil {
			return aggregate.Result{}, err
		}
		return aggregate.Aggregate(terminal, p)
	})
}

// PriceParallel 使用调用方持有的 worker 池分块并行定价。池在调用结束后仍保持可用。
func (pr *Pricer) PriceParallel(ctx context.Context, c option.Contract, r option.Resolution, pool *worker.Pool, opts ...CallOption) (aggregate.Result, error) {
	o := buildCallOptions(opts)
	return pr.observe(ctx, ModeParallel, c, r, func(ctx context.Context, p option.Params) (aggregate.Result, error) {
		sched, err := scheduler.New(pool, pr.engine, scheduler.WithLogger(pr.logger), scheduler.WithMetrics(pr.metrics))
		if err != nil {
			return aggregate.Result{}, err
		}

		var callOpts []scheduler.CallOption
		if o.seeded {
			callOpts = append(callOpts, scheduler.WithSeed(o.seed))
		}
		if o.workers != 0 {
			callOpts = append(callOpts, scheduler.WithWorkers(o.workers))
		}
		if o.collectTimeout > 0 {
			callOpts = append(callOpts, scheduler.WithCollectTimeout(o.collectTimeout))
		}

		report, err := sched.Run(ctx, p, callOpts...)
		tracing.AddTag(ctx, "mc.seed", report.Seed)
		tracing.AddTag(ctx, "mc.chunks", len(report.Chunks))
		if err != nil {
			return aggregate.Result{}, err
		}
		return report.Result, nil
	})
}

// observe 负责参数组装、追踪、指标与日志，fn 只关注模拟本身。
func (pr *Pricer) observe(ctx context.Context, mode Mode, c option.Contract, r option.Resolution,
	fn func(context.Context, option.Params) (aggregate.Result, error),
) (aggregate.Result, error) {
	kind := string(pr.engine.Name())
	ctx, span := tracing.StartSpan(ctx, "montecarlo.price."+string(mode))
	defer span.End()

	tracing.AddTag(ctx, "mc.engine", kind)
	tracing.AddTag(ctx, "mc.mode", string(mode))
	tracing.AddTag(ctx, "option.s0", c.S0)
	tracing.AddTag(ctx, "option.k", c.K)
	tracing.AddTag(ctx, "option.r", c.R)
	tracing.AddTag(ctx, "option.sigma", c.Sigma)
	tracing.AddTag(ctx, "option.t", c.T)
	tracing.AddTag(ctx, "mc.steps", r.Steps)
	tracing.AddTag(ctx, "mc.paths", r.Paths)

	start := time.Now()
	p, err := option.New(c, r)
	var res aggregate.Result
	if err == nil {
		res, err = fn(ctx, p)
	}
	elapsed := time.Since(start)

	status := Status(err)
	if pr.metrics != nil {
		pr.metrics.PricingRequestsTotal.WithLabelValues(kind, string(mode), status).Inc()
		pr.metrics.PricingDuration.WithLabelValues(kind, string(mode)).Observe(elapsed.Seconds())
		if err == nil {
			pr.metrics.PathsSimulatedTotal.WithLabelValues(kind).Add(float64(res.Paths))
		}
	}

	if err != nil {
		tracing.SetError(ctx, err)
		level := slog.LevelError
		if errors.Is(err, xerrors.ErrInvalidInput) || errors.Is(err, xerrors.ErrCallCanceled) {
			level = slog.LevelWarn
		}
		pr.logger.Log(ctx, level, "pricing failed",
			"engine", kind, "mode", mode, "status", status, "paths", r.Paths, "steps", r.Steps,
			"elapsed", elapsed, "error", err)
		return aggregate.Result{}, err
	}

	tracing.AddTag(ctx, "mc.value", res.Value)
	tracing.AddTag(ctx, "mc.std_err", res.StdErr)
	pr.logger.InfoContext(ctx, "pricing completed",
		"engine", kind, "mode", mode, "paths", res.Paths, "steps", r.Steps,
		"value", res.Value, "std_err", res.StdErr, "elapsed", elapsed)
	return res, nil
}

// Status 将定价错误映射为指标与日志使用的状态标签。
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, xerrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, xerrors.ErrUnknownEngine):
		return "unknown_engine"
	case errors.Is(err, xerrors.ErrAggregationFailure):
		return "aggregation_failure"
	case errors.Is(err, xerrors.ErrNumericInstability):
		return "numeric_instability"
	case errors.Is(err, xerrors.ErrCallCanceled):
		return "canceled"
	case errors.Is(err, xerrors.ErrCallAbandoned):
		return "abandoned"
	default:
		return "error"
	}
}

var defaultPricer = sync.OnceValue(func() *Pricer {
	return &Pricer{engine: engine.MustNew(DefaultEngine), logger: slog.Default()}
})

// Price 使用默认引擎单 worker 定价。
func Price(ctx context.Context, c option.Contract, r option.Resolution, opts ...CallOption) (aggregate.Result, error) {
	return defaultPricer().Price(ctx, c, r, opts...)
}

// PriceParallel 使用默认引擎在给定池上并行定价。
func PriceParallel(ctx context.Context, c option.Contract, r option.Resolution, pool *worker.Pool, opts ...CallOption) (aggregate.Result, error) {
	return defaultPricer().PriceParallel(ctx, c, r, pool, opts...)
}
