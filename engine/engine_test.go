package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/rng"
	"github.com/wyfcoding/montecarlo/xerrors"
)

func params(steps, paths int) option.Params {
	return option.Params{
		Contract:   option.Contract{S0: 100, K: 105, R: 0.05, Sigma: 0.12, T: 0.5},
		Resolution: option.Resolution{Steps: steps, Paths: paths},
	}
}

func TestSingleStepStepwiseEqualsSummation(t *testing.T) {
	draws := []float64{0.3, -1.2, 2.5, 0, -0.01, 1.7, -2.2, 0.9}
	p := params(1, len(draws))

	a, err := Stepwise{}.Simulate(p, len(draws), rng.NewSequence(draws))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Summation{}.Simulate(p, len(draws), rng.NewSequence(draws))
	if err != nil {
		t.Fatal(err)
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("path %d: stepwise=%v summation=%v", i, a[i], b[i])
		}
	}
}

func TestDrawConsumption(t *testing.T) {
	const steps, paths = 7, 5
	p := params(steps, paths)

	tests := []struct {
		engine PathEngine
		want   int
	}{
		{Stepwise{}, steps * paths},
		{Summation{}, steps * paths},
		{Exact{}, paths},
	}
	for _, tt := range tests {
		t.Run(string(tt.engine.Name()), func(t *testing.T) {
			src := rng.NewSequence([]float64{0.1, -0.2, 0.3})
			if _, err := tt.engine.Simulate(p, paths, src); err != nil {
				t.Fatal(err)
			}
			if src.Consumed() != tt.want {
				t.Fatalf("consumed %d draws, want %d", src.Consumed(), tt.want)
			}
		})
	}
}

func TestSameDrawsSameTerminalPriceForAnyM(t *testing.T) {
	// 相同抽样下，Stepwise 与 Summation 仅在浮点舍入上不同。
	p := params(50, 20)
	a, _ := Stepwise{}.Simulate(p, p.Paths, rng.New(11))
	b, _ := Summation{}.Simulate(p, p.Paths, rng.New(11))
	for i := range a {
		if rel := math.Abs(a[i]-b[i]) / b[i]; rel > 1e-10 {
			t.Fatalf("path %d differs beyond rounding: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLogNormalMoments(t *testing.T) {
	tests := []struct {
		engine PathEngine
		steps  int
		paths  int
	}{
		{Stepwise{}, 20, 20_000},
		{Summation{}, 20, 20_000},
		{Exact{}, 20, 100_000},
	}

	for _, tt := range tests {
		t.Run(string(tt.engine.Name()), func(t *testing.T) {
			p := params(tt.steps, tt.paths)
			terminal, err := tt.engine.Simulate(p, tt.paths, rng.New(2024))
			if err != nil {
				t.Fatal(err)
			}

			var sum, sumSq float64
			for _, s := range terminal {
				x := math.Log(s / p.S0)
				sum += x
				sumSq += x * x
			}
			n := float64(len(terminal))
			mean := sum / n
			std := math.Sqrt(sumSq/n - mean*mean)

			wantStd := p.Vol()
			if tol := 5 * wantStd / math.Sqrt(n); math.Abs(mean-p.Drift()) > tol {
				t.Errorf("log-mean = %v, want %v ± %v", mean, p.Drift(), tol)
			}
			if math.Abs(std-wantStd)/wantStd > 0.03 {
				t.Errorf("log-std = %v, want %v", std, wantStd)
			}
		})
	}
}

func TestOverflowPropagatesAsInf(t *testing.T) {
	p := option.Params{
		Contract:   option.Contract{S0: 100, K: 105, R: 1000, Sigma: 0, T: 1},
		Resolution: option.Resolution{Steps: 4, Paths: 3},
	}
	for _, kind := range Kinds() {
		terminal, err := MustNew(kind).Simulate(p, p.Paths, rng.New(1))
		if err != nil {
			t.Fatal(err)
		}
		for i, s := range terminal {
			if !math.IsInf(s, 1) {
				t.Fatalf("%s path %d = %v, want +Inf", kind, i, s)
			}
		}
	}
}

func TestInvalidCounts(t *testing.T) {
	for _, kind := range Kinds() {
		e := MustNew(kind)
		if _, err := e.Simulate(params(10, 10), 0, rng.New(1)); !errors.Is(err, xerrors.ErrInvalidInput) {
			t.Errorf("%s: n=0 got %v", kind, err)
		}
		if _, err := e.Simulate(params(0, 10), 10, rng.New(1)); !errors.Is(err, xerrors.ErrInvalidInput) {
			t.Errorf("%s: M=0 got %v", kind, err)
		}
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Summation "); err != nil || k != KindSummation {
		t.Fatalf("ParseKind() = %q, %v", k, err)
	}
	if _, err := ParseKind("antithetic"); !errors.Is(err, xerrors.ErrUnknownEngine) {
		t.Fatalf("expected ErrUnknownEngine, got %v", err)
	}
	if _, err := New("numba"); !errors.Is(err, xerrors.ErrUnknownEngine) {
		t.Fatalf("expected ErrUnknownEngine, got %v", err)
	}
}

func TestSimulateContextMatchesSingleCall(t *testing.T) {
	// 1000 步时每批 262 条路径，1000 条路径跨越多个批次。
	p := params(1000, 1000)
	if BatchPaths(p.Steps) >= p.Paths {
		t.Fatalf("batch of %d paths does not split %d paths", BatchPaths(p.Steps), p.Paths)
	}
	for _, kind := range Kinds() {
		e := MustNew(kind)
		want := make([]float64, p.Paths)
		if err := e.SimulateInto(want, p, rng.New(42)); err != nil {
			t.Fatal(err)
		}
		got := make([]float64, p.Paths)
		if err := SimulateContext(context.Background(), e, got, p, rng.New(42)); err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s path %d: batched=%v single=%v", kind, i, got[i], want[i])
			}
		}
	}
}

func TestSimulateContextStopsWhenDone(t *testing.T) {
	p := params(10, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SimulateContext(ctx, Stepwise{}, make([]float64, p.Paths), p, rng.New(1)); !errors.Is(err, xerrors.ErrCallCanceled) {
		t.Fatalf("cancelled: %v", err)
	}

	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	if err := SimulateContext(expired, Stepwise{}, make([]float64, p.Paths), p, rng.New(1)); !errors.Is(err, xerrors.ErrCallAbandoned) {
		t.Fatalf("expired: %v", err)
	}

	if err := SimulateContext(context.Background(), Exact{}, nil, p, rng.New(1)); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("empty dst: %v", err)
	}
}

func TestBatchPaths(t *testing.T) {
	tests := []struct{ steps, want int }{
		{1, BatchDraws},
		{1000, BatchDraws / 1000},
		{BatchDraws * 2, 1},
		{0, BatchDraws},
	}
	for _, tt := range tests {
		if got := BatchPaths(tt.steps); got != tt.want {
			t.Errorf("BatchPaths(%d) = %d, want %d", tt.steps, got, tt.want)
		}
	}
}
