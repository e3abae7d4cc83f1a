// Package scheduler 将一次定价调用切分为若干路径分块，分派到常驻 worker 池上并行模拟，
// 收集带标签的分块结果后按路径数加权合并。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/wyfcoding/montecarlo/aggregate"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/fsm"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/rng"
	"github.com/wyfcoding/montecarlo/worker"
	"github.com/wyfcoding/montecarlo/xerrors"
)

// CallState 一次并行定价调用的生命周期状态。
type CallState string

const (
	StateIdle        CallState = "idle"
	StateDispatching CallState = "dispatching"
	StateCollecting  CallState = "collecting"
	StateAggregated  CallState = "aggregated"
	StateFailed      CallState = "failed"
	StateCancelled   CallState = "cancelled"
)

type callEvent string

const (
	eventDispatch callEvent = "dispatch"
	eventCollect  callEvent = "collect"
	eventMerge    callEvent = "merge"
	eventFail     callEvent = "fail"
	eventCancel   callEvent = "cancel"
)

// callFlow 为所有调用共享的只读状态转移表。
var callFlow = fsm.NewDefinition[CallState, callEvent]().
	AddTransition(StateIdle, eventDispatch, StateDispatching).
	AddTransition(StateIdle, eventFail, StateFailed).
	AddTransition(StateDispatching, eventCollect, StateCollecting).
	AddTransition(StateDispatching, eventFail, StateFailed).
	AddTransition(StateDispatching, eventCancel, StateCancelled).
	AddTransition(StateCollecting, eventMerge, StateAggregated).
	AddTransition(StateCollecting, eventFail, StateFailed).
	AddTransition(StateCollecting, eventCancel, StateCancelled)

// Chunk 描述一个已完成分块。
type Chunk struct {
	Index   int           `json:"index"`
	Size    int           `json:"size"`
	Seed    uint64        `json:"seed"`
	Elapsed time.Duration `json:"elapsed"`
}

// Report 一次调用的完整记录；失败时 Result 为零值，States 仍记录到终止状态为止。
type Report struct {
	Result aggregate.Result
	Seed   uint64
	Chunks []Chunk
	States []CallState
}

// chunkResult 是 worker 回传给收集者的带标签结果，成功与失败走同一条通道。
type chunkResult struct {
	Summary aggregate.Summary
	Err     error
	Index   int
	Size    int
	Seed    uint64
	Elapsed time.Duration
	Panic   bool
}

// Scheduler 绑定一个外部持有的 worker 池与一个路径引擎，本身无调用间状态，可并发使用。
type Scheduler struct {
	pool    *worker.Pool
	engine  engine.PathEngine
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option 定义 Scheduler 配置选项。
type Option func(*Scheduler)

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics 注入指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New 创建调度器。池的生命周期由调用方管理。
func New(pool *worker.Pool, eng engine.PathEngine, opts ...Option) (*Scheduler, error) {
	if pool == nil {
		return nil, xerrors.InvalidInput("worker pool is required")
	}
	if eng == nil {
		return nil, xerrors.InvalidInput("path engine is required")
	}
	s := &Scheduler{
		pool:   pool,
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Engine 返回调度器使用的路径引擎。
func (s *Scheduler) Engine() engine.PathEngine {
	return s.engine
}

// Pool 返回调度器绑定的 worker 池。
func (s *Scheduler) Pool() *worker.Pool {
	return s.pool
}

type callOptions struct {
	seed           uint64
	seeded         bool
	workers        int
	collectTimeout time.Duration
}

// CallOption 单次调用的可选参数。
type CallOption func(*callOptions)

// WithSeed 固定调用种子，使结果可复现；未指定时从 crypto/rand 取种子。
func WithSeed(seed uint64) CallOption {
	return func(o *callOptions) {
		o.seed = seed
		o.seeded = true
	}
}

// WithWorkers 设置分块数，默认等于池大小。
func WithWorkers(n int) CallOption {
	return func(o *callOptions) {
		o.workers = n
	}
}

// WithCollectTimeout 设置收集阶段的最长等待时间，超时后放弃本次调用。
func WithCollectTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.collectTimeout = d
	}
}

// PriceParallel 并行定价并返回折现后的结果。
func (s *Scheduler) PriceParallel(ctx context.Context, p option.Params, opts ...CallOption) (aggregate.Result, error) {
	report, err := s.Run(ctx, p, opts...)
	if err != nil {
		return aggregate.Result{}, err
	}
	return report.Result, nil
}

// Run 执行一次并行定价调用并返回完整记录。
// 任一分块失败、结果缺失或重复都会使整次调用失败，不做自动重试。
func (s *Scheduler) Run(ctx context.Context, p option.Params, opts ...CallOption) (Report, error) {
	o := callOptions{workers: s.pool.Size()}
	for _, opt := range opts {
		opt(&o)
	}

	machine := fsm.NewMachine(callFlow, StateIdle, s.logger)
	report := Report{}
	finish := func(ev callEvent, err error) (Report, error) {
		s.move(ctx, machine, ev)
		report.States = machine.History()
		return report, err
	}

	if err := p.Validate(); err != nil {
		return finish(eventFail, err)
	}
	chunks, err := Partition(p.Paths, o.workers)
	if err != nil {
		return finish(eventFail, err)
	}

	report.Seed = o.seed
	if !o.seeded {
		report.Seed = rng.NewSeed()
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 缓冲区容纳全部分块，worker 发送结果永不阻塞，被放弃的调用不会泄漏 goroutine。
	results := make(chan chunkResult, len(chunks))

	s.move(ctx, machine, eventDispatch)
	s.logger.DebugContext(ctx, "dispatching chunks",
		"engine", s.engine.Name(), "paths", p.Paths, "steps", p.Steps, "chunks", len(chunks), "seed", report.Seed)

	for i, size := range chunks {
		task := s.chunkTask(callCtx, p.WithPaths(size), i, rng.Derive(report.Seed, i), results)
		if submitErr := s.pool.Submit(callCtx, task); submitErr != nil {
			cancel()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(eventCancel, xerrors.Abandoned(ctxErr))
			}
			return finish(eventFail, xerrors.AggregationFailure(submitErr, "dispatch of chunk %d failed", i).
				WithContext("chunk", i))
		}
	}

	s.move(ctx, machine, eventCollect)
	collected, err := s.collect(ctx, len(chunks), results, o.collectTimeout)
	if err != nil {
		cancel()
		if errors.Is(err, xerrors.ErrCallAbandoned) || errors.Is(err, xerrors.ErrCallCanceled) {
			return finish(eventCancel, err)
		}
		return finish(eventFail, err)
	}

	merged, err := s.inspect(chunks, collected)
	if err != nil {
		return finish(eventFail, err)
	}
	if merged.Count != p.Paths {
		return finish(eventFail, xerrors.AggregationFailure(nil, "merged %d paths, expected %d", merged.Count, p.Paths))
	}

	res, err := aggregate.NewResult(merged, p)
	if err != nil {
		return finish(eventFail, xerrors.AggregationFailure(err, "discounting merged summary failed"))
	}

	report.Result = res
	report.Chunks = make([]Chunk, len(collected))
	for i, r := range collected {
		report.Chunks[i] = Chunk{Index: r.Index, Size: r.Size, Seed: r.Seed, Elapsed: r.Elapsed}
	}
	return finish(eventMerge, nil)
}

// chunkTask 构造一个分块任务。每个任务独占自己的随机源。
func (s *Scheduler) chunkTask(callCtx context.Context, p option.Params, index int, seed uint64, out chan<- chunkResult) worker.Task {
	return func(context.Context) {
		res := chunkResult{Index: index, Size: p.Paths, Seed: seed}
		defer func() { out <- res }()

		// 调用已被放弃时跳过排队中的分块。
		if err := callCtx.Err(); err != nil {
			res.Err = xerrors.Abandoned(err)
			return
		}

		start := time.Now()
		var pc panics.Catcher
		pc.Try(func() {
			res.Summary, res.Err = s.simulateChunk(callCtx, p, seed)
		})
		if r := pc.Recovered(); r != nil {
			res.Err = r.AsError()
			res.Panic = true
		}
		res.Elapsed = time.Since(start)

		if s.metrics != nil {
			s.metrics.ChunkDuration.WithLabelValues(string(s.engine.Name())).Observe(res.Elapsed.Seconds())
		}
	}
}

// simulateChunk 分批模拟，调用被放弃后在下一批之前停止，worker 随即释放。
func (s *Scheduler) simulateChunk(callCtx context.Context, p option.Params, seed uint64) (aggregate.Summary, error) {
	terminal := make([]float64, p.Paths)
	if err := engine.SimulateContext(callCtx, s.engine, terminal, p, rng.New(seed)); err != nil {
		return aggregate.Summary{}, err
	}
	return aggregate.Summarize(aggregate.Payoffs(terminal, p.K))
}

// collect 精确收集 n 个分块结果，或在 ctx 结束、收集超时、池停止时放弃。
func (s *Scheduler) collect(ctx context.Context, n int, results <-chan chunkResult, timeout time.Duration) ([]chunkResult, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	collected := make([]chunkResult, 0, n)
	for len(collected) < n {
		select {
		case r := <-results:
			collected = append(collected, r)
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "pricing call abandoned", "collected", len(collected), "chunks", n, "error", ctx.Err())
			return nil, xerrors.Abandoned(ctx.Err())
		case <-expired:
			s.logger.WarnContext(ctx, "pricing call collect timeout", "collected", len(collected), "chunks", n, "timeout", timeout)
			return nil, xerrors.Abandoned(context.DeadlineExceeded).WithContext("timeout", timeout.String())
		case <-s.pool.Done():
			// 池停止前已完成的分块结果仍在缓冲区中。
			for drained := false; !drained && len(collected) < n; {
				select {
				case r := <-results:
					collected = append(collected, r)
				default:
					drained = true
				}
			}
			if len(collected) < n {
				return nil, xerrors.AggregationFailure(worker.ErrPoolClosed,
					"pool stopped with %d of %d chunks outstanding", n-len(collected), n)
			}
		}
	}
	return collected, nil
}

// inspect 检查每一个标签：失败、越界、重复或大小不符都使调用失败；否则按下标顺序加权合并。
func (s *Scheduler) inspect(chunks []int, collected []chunkResult) (aggregate.Summary, error) {
	slices.SortFunc(collected, func(a, b chunkResult) int { return a.Index - b.Index })

	seen := make([]bool, len(chunks))
	parts := make([]aggregate.Summary, 0, len(collected))
	var failures []error
	for _, r := range collected {
		switch {
		case r.Err != nil:
			s.recordFailure(r)
			failures = append(failures, fmt.Errorf("chunk %d: %w", r.Index, r.Err))
			continue
		case r.Index < 0 || r.Index >= len(chunks):
			failures = append(failures, fmt.Errorf("chunk index %d out of range", r.Index))
			continue
		case seen[r.Index]:
			failures = append(failures, fmt.Errorf("duplicate result for chunk %d", r.Index))
			continue
		case r.Size != chunks[r.Index] || r.Summary.Count != r.Size:
			failures = append(failures, fmt.Errorf("chunk %d returned %d paths, expected %d", r.Index, r.Summary.Count, chunks[r.Index]))
			continue
		}
		seen[r.Index] = true
		parts = append(parts, r.Summary)
	}

	if len(failures) > 0 {
		return aggregate.Summary{}, xerrors.AggregationFailure(errors.Join(failures...),
			"%d of %d chunks failed", len(failures), len(chunks)).WithContext("engine", string(s.engine.Name()))
	}
	return aggregate.Merge(parts...)
}

func (s *Scheduler) recordFailure(r chunkResult) {
	reason := "error"
	switch {
	case r.Panic:
		reason = "panic"
	case errors.Is(r.Err, xerrors.ErrNumericInstability):
		reason = "numeric_instability"
	case errors.Is(r.Err, xerrors.ErrCallAbandoned), errors.Is(r.Err, xerrors.ErrCallCanceled):
		reason = "abandoned"
	}
	s.logger.Error("chunk failed", "engine", s.engine.Name(), "chunk", r.Index, "size", r.Size, "reason", reason, "error", r.Err)
	if s.metrics != nil {
		s.metrics.ChunkFailuresTotal.WithLabelValues(string(s.engine.Name()), reason).Inc()
	}
}

func (s *Scheduler) move(ctx context.Context, m *fsm.Machine[CallState, callEvent], ev callEvent) {
	if err := m.Trigger(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "pricing call state transition rejected", "state", m.Current(), "event", ev, "error", err)
	}
}
