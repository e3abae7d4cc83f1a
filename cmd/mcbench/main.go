// mcbench 对三种路径引擎在单 worker 与并行模式下做计时实验，并输出表格与 CSV。
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wyfcoding/montecarlo/bench"
	"github.com/wyfcoding/montecarlo/bootstrap"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/pricing"
	"github.com/wyfcoding/montecarlo/worker"
)

var version = "dev"

type flags struct {
	config      string
	engines     string
	modes       string
	output      string
	repeats     int
	workers     int
	seed        uint64
	convergence bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to TOML config; built-in defaults are used when empty")
	flag.StringVar(&f.engines, "engines", "", "comma separated engines (stepwise,summation,exact); all when empty")
	flag.StringVar(&f.modes, "modes", "single,parallel", "comma separated execution modes")
	flag.StringVar(&f.output, "out", "", "CSV output path, overrides bench.output")
	flag.IntVar(&f.repeats, "repeats", 0, "timing repeats per scenario, overrides bench.repeats")
	flag.IntVar(&f.workers, "workers", 0, "parallel workers, overrides bench.workers")
	flag.Uint64Var(&f.seed, "seed", 0, "base seed for reproducible runs, overrides engine.seed")
	flag.BoolVar(&f.convergence, "convergence", true, "also run the convergence study over bench.path_scenarios")
	flag.Parse()

	if err := run(f); err != nil {
		slog.Error("mcbench failed", "error", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	b := bootstrap.New("mcbench", version)
	if err := b.Initialize(f.config); err != nil {
		return err
	}
	cfg := &b.Config
	if f.repeats > 0 {
		cfg.Bench.Repeats = f.repeats
	}
	if f.workers > 0 {
		cfg.Bench.Workers = f.workers
	}
	if f.output != "" {
		cfg.Bench.Output = f.output
	}
	if f.seed != 0 {
		cfg.Engine.Seed = f.seed
	}

	shutdownTracer := b.SetupTracing()
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			b.Logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	m := metrics.NewMetrics("mcbench")
	m.RegisterBuildInfo("mcbench", cfg.Version)
	if cfg.Metrics.Enabled && cfg.Metrics.Port != "" {
		stop := m.ExposeHttp(cfg.Metrics.Port)
		defer stop()
	}

	size := cfg.Bench.Workers
	if size <= 0 {
		size = cfg.Pool.Size
	}
	pool := worker.NewPool(
		worker.WithName(cfg.Pool.Name),
		worker.WithSize(size),
		worker.WithQueueSize(cfg.Pool.QueueSize),
		worker.WithLogger(b.Logger.Named("worker")),
		worker.WithMetrics(m),
	)
	defer pool.Stop()

	base, err := cfg.Engine.Params()
	if err != nil {
		return err
	}

	opts := []bench.Option{
		bench.WithLogger(b.Logger.Named("bench")),
		bench.WithMetrics(m),
		bench.WithSeed(cfg.Engine.Seed),
	}
	if kinds, err := parseEngines(f.engines); err != nil {
		return err
	} else if len(kinds) > 0 {
		opts = append(opts, bench.WithEngines(kinds...))
	}
	if modes := parseModes(f.modes); len(modes) > 0 {
		opts = append(opts, bench.WithModes(modes...))
	}

	runner, err := bench.NewRunner(pool, cfg.Bench, base, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b.Logger.Info("benchmark started", "run_id", runner.RunID(), "workers", size, "repeats", cfg.Bench.Repeats)
	rows, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if f.convergence && len(cfg.Bench.PathScenarios) > 0 {
		kind := pricing.DefaultEngine
		if cfg.Engine.Kind != "" {
			kind = engine.Kind(cfg.Engine.Kind)
		}
		conv, err := runner.Convergence(ctx, kind, cfg.Bench.PathScenarios)
		if err != nil {
			return err
		}
		rows = append(rows, conv...)
	}

	if err := bench.PrintTable(os.Stdout, rows); err != nil {
		return err
	}
	if cfg.Bench.Output != "" {
		if err := bench.WriteCSVFile(cfg.Bench.Output, rows); err != nil {
			return fmt.Errorf("write %s: %w", cfg.Bench.Output, err)
		}
		b.Logger.Info("results written", "path", cfg.Bench.Output, "rows", len(rows))
	}
	return nil
}

func parseEngines(s string) ([]engine.Kind, error) {
	var kinds []engine.Kind
	for _, name := range splitList(s) {
		kind, err := engine.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func parseModes(s string) []pricing.Mode {
	var modes []pricing.Mode
	for _, name := range splitList(s) {
		modes = append(modes, pricing.Mode(name))
	}
	return modes
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
