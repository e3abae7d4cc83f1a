package pricing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/logging"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/worker"
	"github.com/wyfcoding/montecarlo/xerrors"
	"gonum.org/v1/gonum/stat"
)

var benchContract = option.Contract{S0: 100, K: 105, R: 0.05, Sigma: 0.12, T: 0.5}

func TestBlackScholesCall(t *testing.T) {
	tests := []struct {
		name string
		c    option.Contract
		want float64
	}{
		{"at the money", option.Contract{S0: 100, K: 100, R: 0.05, Sigma: 0.2, T: 1}, 10.450583572185565},
		{"benchmark contract", benchContract, 2.354735247244065},
		{"zero volatility", option.Contract{S0: 100, K: 90, R: 0, Sigma: 0, T: 1}, 10},
		{"zero volatility out of the money", option.Contract{S0: 80, K: 90, R: 0, Sigma: 0, T: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BlackScholesCall(tt.c)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("BlackScholesCall() = %.12f, want %.12f", got, tt.want)
			}
		})
	}

	if _, err := BlackScholesCall(option.Contract{S0: 100, K: 100, Sigma: 0.2, T: 0}); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("T=0 error = %v", err)
	}
	if _, err := BlackScholesCall(option.Contract{S0: math.NaN(), K: 100, Sigma: 0.2, T: 1}); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("NaN error = %v", err)
	}
}

func newPricer(t *testing.T, kind engine.Kind, m *metrics.Metrics) *Pricer {
	t.Helper()
	pr, err := NewPricer(WithEngine(kind), WithLogger(logging.Discard()), WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	return pr
}

func newPool(t *testing.T) *worker.Pool {
	t.Helper()
	pool := worker.NewPool(worker.WithName(t.Name()), worker.WithSize(4), worker.WithLogger(logging.Discard()))
	t.Cleanup(pool.Stop)
	return pool
}

func TestConvergesToBlackScholes(t *testing.T) {
	want, err := BlackScholesCall(benchContract)
	if err != nil {
		t.Fatal(err)
	}
	pool := newPool(t)
	res := option.Resolution{Steps: 50, Paths: 100_000}

	for _, kind := range engine.Kinds() {
		pr := newPricer(t, kind, nil)

		single, err := pr.Price(context.Background(), benchContract, res, WithSeed(11))
		if err != nil {
			t.Fatalf("%s single: %v", kind, err)
		}
		parallel, err := pr.PriceParallel(context.Background(), benchContract, res, pool, WithSeed(12))
		if err != nil {
			t.Fatalf("%s parallel: %v", kind, err)
		}

		for mode, got := range map[Mode]float64{ModeSingle: single.Value, ModeParallel: parallel.Value} {
			se := single.StdErr
			if mode == ModeParallel {
				se = parallel.StdErr
			}
			if math.Abs(got-want) > 4*se {
				t.Errorf("%s/%s value %.5f, Black-Scholes %.5f, std err %.5f", kind, mode, got, want, se)
			}
		}
	}
}

func TestPriceIsNonNegativeAndDeepOutOfMoneyIsZero(t *testing.T) {
	pr := newPricer(t, engine.KindStepwise, nil)
	res := option.Resolution{Steps: 20, Paths: 5000}

	for seed := range uint64(5) {
		got, err := pr.Price(context.Background(), benchContract, res, WithSeed(seed))
		if err != nil {
			t.Fatal(err)
		}
		if got.Value < 0 || got.StdErr < 0 {
			t.Fatalf("negative result %+v", got)
		}
	}

	deep := option.Contract{S0: 50, K: 200, R: 0.05, Sigma: 0.12, T: 0.5}
	got, err := pr.Price(context.Background(), deep, res, WithSeed(3))
	if err != nil {
		t.Fatal(err)
	}
	if got.Value > 1e-9 {
		t.Fatalf("deep out-of-the-money value = %v", got.Value)
	}
}

func TestStdErrHalvesWhenPathsQuadruple(t *testing.T) {
	pr := newPricer(t, engine.KindExact, nil)
	meanStdErr := func(paths int) float64 {
		var sum float64
		const repeats = 5
		for seed := range uint64(repeats) {
			got, err := pr.Price(context.Background(), benchContract, option.Resolution{Steps: 1, Paths: paths}, WithSeed(100+seed))
			if err != nil {
				t.Fatal(err)
			}
			sum += got.StdErr
		}
		return sum / repeats
	}

	ratio := meanStdErr(10_000) / meanStdErr(40_000)
	if ratio < 1.8 || ratio > 2.2 {
		t.Fatalf("std err ratio = %.3f, want about 2", ratio)
	}
}

func TestBenchmarkContractAcrossSeeds(t *testing.T) {
	want, err := BlackScholesCall(benchContract)
	if err != nil {
		t.Fatal(err)
	}
	pr := newPricer(t, engine.KindSummation, nil)
	pool := newPool(t)
	res := option.Resolution{Steps: 1000, Paths: 20_000}

	values := make([]float64, 0, 5)
	for seed := range uint64(5) {
		got, err := pr.PriceParallel(context.Background(), benchContract, res, pool, WithSeed(1000+seed))
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got.Value-want) > 5*got.StdErr {
			t.Errorf("seed %d: value %.5f, Black-Scholes %.5f, std err %.5f", 1000+seed, got.Value, want, got.StdErr)
		}
		values = append(values, got.Value)
	}
	if mean := stat.Mean(values, nil); math.Abs(mean-want) > 0.05 {
		t.Fatalf("mean over seeds %.5f, Black-Scholes %.5f", mean, want)
	}
}

// 重复估计的经验标准差随 √I 收缩，且与报告的标准误一致。
func TestEstimateSpreadShrinksWithSqrtPaths(t *testing.T) {
	pr := newPricer(t, engine.KindExact, nil)
	const repeats = 100
	spread := func(paths int, seedBase uint64) (sd, reported float64) {
		values := make([]float64, repeats)
		errs := make([]float64, repeats)
		for k := range repeats {
			got, err := pr.Price(context.Background(), benchContract, option.Resolution{Steps: 1, Paths: paths}, WithSeed(seedBase+uint64(k)))
			if err != nil {
				t.Fatal(err)
			}
			values[k] = got.Value
			errs[k] = got.StdErr
		}
		_, sd = stat.MeanStdDev(values, nil)
		return sd, stat.Mean(errs, nil)
	}

	small, reported := spread(10_000, 1)
	large, _ := spread(40_000, 10_001)

	if ratio := small / large; ratio < 1.4 || ratio > 2.8 {
		t.Fatalf("spread ratio = %.3f (%.5f / %.5f), want about 2", ratio, small, large)
	}
	if math.Abs(small-reported) > 0.3*reported {
		t.Fatalf("empirical spread %.5f, reported std err %.5f", small, reported)
	}
}

func TestPriceStopsAtDeadline(t *testing.T) {
	pr := newPricer(t, engine.KindStepwise, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := pr.Price(ctx, benchContract, option.Resolution{Steps: 2000, Paths: 400_000}, WithSeed(4))
	if !errors.Is(err, xerrors.ErrCallAbandoned) {
		t.Fatalf("error = %v, want CallAbandoned", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Price returned after %v", elapsed)
	}
}

func TestInvalidResolutionRejected(t *testing.T) {
	m := metrics.NewMetrics("pricing-test")
	pr := newPricer(t, engine.KindSummation, m)
	pool := newPool(t)

	for name, res := range map[string]option.Resolution{
		"zero paths": {Steps: 10, Paths: 0},
		"zero steps": {Steps: 0, Paths: 10},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := pr.Price(context.Background(), benchContract, res); !errors.Is(err, xerrors.ErrInvalidInput) {
				t.Fatalf("Price() error = %v", err)
			}
			if _, err := pr.PriceParallel(context.Background(), benchContract, res, pool); !errors.Is(err, xerrors.ErrInvalidInput) {
				t.Fatalf("PriceParallel() error = %v", err)
			}
		})
	}

	if got := testutil.ToFloat64(m.PricingRequestsTotal.WithLabelValues("summation", "single", "invalid_input")); got != 2 {
		t.Fatalf("invalid single requests = %v", got)
	}
	if got := testutil.ToFloat64(m.PathsSimulatedTotal.WithLabelValues("summation")); got != 0 {
		t.Fatalf("paths simulated = %v", got)
	}
}

func TestMetricsRecordedOnSuccess(t *testing.T) {
	m := metrics.NewMetrics("pricing-test")
	pr := newPricer(t, engine.KindExact, m)
	pool := newPool(t)
	res := option.Resolution{Steps: 1, Paths: 1000}

	if _, err := pr.Price(context.Background(), benchContract, res, WithSeed(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := pr.PriceParallel(context.Background(), benchContract, res, pool, WithSeed(1), WithWorkers(3)); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.PathsSimulatedTotal.WithLabelValues("exact")); got != 2000 {
		t.Fatalf("paths simulated = %v", got)
	}
	if got := testutil.ToFloat64(m.PricingRequestsTotal.WithLabelValues("exact", "parallel", "ok")); got != 1 {
		t.Fatalf("parallel ok requests = %v", got)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Price(ctx, benchContract, option.Resolution{Steps: 1, Paths: 10})
	if !errors.Is(err, xerrors.ErrCallCanceled) {
		t.Fatalf("error = %v", err)
	}
	if Status(err) != "canceled" {
		t.Fatalf("Status() = %s", Status(err))
	}
}

func TestEngineSelection(t *testing.T) {
	if _, err := NewPricer(WithEngine("antithetic")); !errors.Is(err, xerrors.ErrUnknownEngine) {
		t.Fatalf("NewPricer() error = %v", err)
	}

	pr := newPricer(t, engine.KindSummation, nil)
	stepwise, err := pr.WithKind(engine.KindStepwise)
	if err != nil {
		t.Fatal(err)
	}
	if stepwise.Engine() != engine.KindStepwise || pr.Engine() != engine.KindSummation {
		t.Fatalf("WithKind() mutated the original: %s / %s", pr.Engine(), stepwise.Engine())
	}

	// M=1 时逐步迭代与求和两种引擎在同一种子下给出相同结果。
	res := option.Resolution{Steps: 1, Paths: 2000}
	a, err := pr.Price(context.Background(), benchContract, res, WithSeed(8))
	if err != nil {
		t.Fatal(err)
	}
	b, err := stepwise.Price(context.Background(), benchContract, res, WithSeed(8))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("summation %+v != stepwise %+v at M=1", a, b)
	}
}

func TestPackageLevelParallel(t *testing.T) {
	got, err := PriceParallel(context.Background(), benchContract, option.Resolution{Steps: 4, Paths: 999}, newPool(t), WithSeed(2))
	if err != nil {
		t.Fatal(err)
	}
	if got.Paths != 999 {
		t.Fatalf("paths = %d", got.Paths)
	}
}
