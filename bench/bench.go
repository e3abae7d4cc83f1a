// Package bench 对三种路径引擎在单 worker 与并行两种模式下做计时实验，并提供收敛研究。
//
// 实验分两组：固定步数改变路径数 (paths 维度)，固定路径数改变步数 (steps 维度)。
// 每个场景重复若干次，记录耗时均值与标准差以及最后一次的估计值。
package bench

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/idgen"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/pricing"
	"github.com/wyfcoding/montecarlo/rng"
	"github.com/wyfcoding/montecarlo/worker"
	"github.com/wyfcoding/montecarlo/xerrors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Dimension 实验中变化的维度。
type Dimension string

const (
	DimensionPaths       Dimension = "paths"
	DimensionSteps       Dimension = "steps"
	DimensionConvergence Dimension = "convergence"
)

// Scenario 一个实验点。
type Scenario struct {
	Dimension Dimension
	Value     int
	Params    option.Params
}

// Row 一次测量的汇总，对应 CSV 中的一行。
type Row struct {
	RunID      string
	Mode       pricing.Mode
	Engine     engine.Kind
	Dimension  Dimension
	Value      int
	AvgSeconds float64
	StdSeconds float64
	Price      float64
	StdErr     float64
}

// Runner 执行计时实验。并行模式复用同一个常驻池。
type Runner struct {
	pool    *worker.Pool
	cfg     config.BenchConfig
	base    option.Params
	kinds   []engine.Kind
	modes   []pricing.Mode
	seed    uint64
	logger  *slog.Logger
	metrics *metrics.Metrics
	runID   string
}

// Option 配置 Runner。
type Option func(*Runner)

// WithEngines 限定参与实验的引擎，默认全部。
func WithEngines(kinds ...engine.Kind) Option {
	return func(r *Runner) {
		r.kinds = kinds
	}
}

// WithModes 限定执行模式，默认单 worker 与并行都测。
func WithModes(modes ...pricing.Mode) Option {
	return func(r *Runner) {
		r.modes = modes
	}
}

// WithSeed 固定基础种子；第 k 次重复使用 Derive(seed, k)。0 表示每次随机。
func WithSeed(seed uint64) Option {
	return func(r *Runner) {
		r.seed = seed
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics 注入指标采集器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner 创建实验执行器。包含并行模式时 pool 不能为空。
func NewRunner(pool *worker.Pool, cfg config.BenchConfig, base option.Params, opts ...Option) (*Runner, error) {
	r := &Runner{
		pool:   pool,
		cfg:    cfg,
		base:   base,
		kinds:  engine.Kinds(),
		modes:  []pricing.Mode{pricing.ModeSingle, pricing.ModeParallel},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	for _, mode := range r.modes {
		switch mode {
		case pricing.ModeSingle:
		case pricing.ModeParallel:
			if pool == nil {
				return nil, xerrors.InvalidInput("parallel mode requires a worker pool")
			}
		default:
			return nil, xerrors.InvalidInput("unknown mode %q", mode)
		}
	}
	for _, kind := range r.kinds {
		if _, err := engine.New(kind); err != nil {
			return nil, err
		}
	}
	r.runID = idgen.GenRunID()
	return r, nil
}

// RunID 返回本次实验的标识，写入每一行结果。
func (r *Runner) RunID() string {
	return r.runID
}

// Scenarios 展开配置中的两组实验点。
func (r *Runner) Scenarios() []Scenario {
	out := make([]Scenario, 0, len(r.cfg.PathScenarios)+len(r.cfg.StepScenarios))
	for _, n := range r.cfg.PathScenarios {
		p := r.base.WithPaths(n)
		if r.cfg.FixedSteps > 0 {
			p.Steps = r.cfg.FixedSteps
		}
		out = append(out, Scenario{Dimension: DimensionPaths, Value: n, Params: p})
	}
	for _, m := range r.cfg.StepScenarios {
		p := r.base
		p.Steps = m
		if r.cfg.FixedPaths > 0 {
			p.Paths = r.cfg.FixedPaths
		}
		out = append(out, Scenario{Dimension: DimensionSteps, Value: m, Params: p})
	}
	return out
}

// Run 依次执行全部实验点。测量串行进行，避免实验之间争抢 CPU 干扰计时。
func (r *Runner) Run(ctx context.Context) ([]Row, error) {
	scenarios := r.Scenarios()
	rows := make([]Row, 0, len(scenarios)*len(r.kinds)*len(r.modes))
	for _, kind := range r.kinds {
		pr, err := r.pricer(kind)
		if err != nil {
			return rows, err
		}
		for _, sc := range scenarios {
			for _, mode := range r.modes {
				row, err := r.measure(ctx, pr, mode, sc)
				if err != nil {
					return rows, err
				}
				r.logger.InfoContext(ctx, "scenario measured",
					"engine", kind, "mode", mode, "dimension", sc.Dimension, "value", sc.Value,
					"avg_seconds", row.AvgSeconds, "price", row.Price)
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

func (r *Runner) pricer(kind engine.Kind) (*pricing.Pricer, error) {
	return pricing.NewPricer(pricing.WithEngine(kind), pricing.WithLogger(r.logger), pricing.WithMetrics(r.metrics))
}

func (r *Runner) callOptions(repeat int) []pricing.CallOption {
	var opts []pricing.CallOption
	if r.seed != 0 {
		opts = append(opts, pricing.WithSeed(rng.Derive(r.seed, repeat)))
	}
	return opts
}

func (r *Runner) measure(ctx context.Context, pr *pricing.Pricer, mode pricing.Mode, sc Scenario) (Row, error) {
	repeats := max(r.cfg.Repeats, 1)
	seconds := make([]float64, 0, repeats)
	row := Row{RunID: r.runID, Mode: mode, Engine: pr.Engine(), Dimension: sc.Dimension, Value: sc.Value}

	for k := range repeats {
		opts := r.callOptions(k)
		start := time.Now()
		var err error
		switch mode {
		case pricing.ModeParallel:
			if r.cfg.Workers > 0 {
				opts = append(opts, pricing.WithWorkers(r.cfg.Workers))
			}
			res, perr := pr.PriceParallel(ctx, sc.Params.Contract, sc.Params.Resolution, r.pool, opts...)
			row.Price, row.StdErr, err = res.Value, res.StdErr, perr
		default:
			res, perr := pr.Price(ctx, sc.Params.Contract, sc.Params.Resolution, opts...)
			row.Price, row.StdErr, err = res.Value, res.StdErr, perr
		}
		if err != nil {
			return row, err
		}
		seconds = append(seconds, time.Since(start).Seconds())
	}

	row.AvgSeconds, row.StdSeconds = meanStd(seconds)
	return row, nil
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		return stat.Mean(xs, nil), 0
	}
	mean, std = stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// Convergence 以单 worker 模式在不同路径数下定价，考察估计值向 Black-Scholes 解析价的收敛。
// 各路径数并发计算，并发度取 Workers 配置。
func (r *Runner) Convergence(ctx context.Context, kind engine.Kind, paths []int) ([]Row, error) {
	pr, err := r.pricer(kind)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Workers, 1))
	for i, n := range paths {
		g.Go(func() error {
			start := time.Now()
			res, err := pr.Price(gctx, r.base.Contract, option.Resolution{Steps: r.base.Steps, Paths: n}, r.callOptions(i)...)
			if err != nil {
				return err
			}
			rows[i] = Row{
				RunID:      r.runID,
				Mode:       pricing.ModeSingle,
				Engine:     kind,
				Dimension:  DimensionConvergence,
				Value:      n,
				AvgSeconds: time.Since(start).Seconds(),
				Price:      res.Value,
				StdErr:     res.StdErr,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}
