package aggregate

import (
	"errors"
	"math"
	"testing"

	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/xerrors"
)

func testParams() option.Params {
	return option.Params{
		Contract:   option.Contract{S0: 100, K: 105, R: 0.05, Sigma: 0.12, T: 0.5},
		Resolution: option.Resolution{Steps: 1, Paths: 1},
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestPayoffs(t *testing.T) {
	got := Payoffs([]float64{100, 105, 110, math.Inf(1)}, 105)
	want := []float64{0, 0, 5, math.Inf(1)}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payoff[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !math.IsNaN(Payoffs([]float64{math.NaN()}, 1)[0]) {
		t.Fatalf("NaN terminal price must stay NaN")
	}
}

func TestAggregateKnownValues(t *testing.T) {
	p := testParams()
	res, err := Aggregate([]float64{100, 107, 109, 111}, p)
	if err != nil {
		t.Fatal(err)
	}
	// 收益 0,2,4,6: 均值 3，样本方差 20/3。
	wantValue := math.Exp(-0.025) * 3
	wantSE := math.Exp(-0.025) * math.Sqrt(20.0/3.0/4.0)
	if !almostEqual(res.Value, wantValue, 1e-12) {
		t.Errorf("Value = %v, want %v", res.Value, wantValue)
	}
	if !almostEqual(res.StdErr, wantSE, 1e-12) {
		t.Errorf("StdErr = %v, want %v", res.StdErr, wantSE)
	}
	if res.Paths != 4 {
		t.Errorf("Paths = %d", res.Paths)
	}
}

func TestAggregateSinglePath(t *testing.T) {
	res, err := Aggregate([]float64{110}, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if res.StdErr != 0 {
		t.Fatalf("single path std err = %v, want 0", res.StdErr)
	}
}

func TestAggregateEmptyIsInvalidInput(t *testing.T) {
	if _, err := Aggregate(nil, testParams()); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if _, err := Summarize(nil); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if _, err := NewResult(Summary{}, testParams()); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestNonFiniteIsNumericInstability(t *testing.T) {
	tests := [][]float64{
		{100, math.Inf(1)},
		{math.NaN(), 120},
	}
	for _, terminal := range tests {
		if _, err := Aggregate(terminal, testParams()); !errors.Is(err, xerrors.ErrNumericInstability) {
			t.Fatalf("%v: expected NumericInstability, got %v", terminal, err)
		}
	}
}

func TestMergeIsSizeWeighted(t *testing.T) {
	p := testParams()
	p1, p2 := 2.0, 12.0

	merged, err := Merge(Summary{Count: 3, Mean: p1}, Summary{Count: 7, Mean: p2})
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewResult(merged, p)
	if err != nil {
		t.Fatal(err)
	}

	weighted := math.Exp(-p.R*p.T) * (3*p1 + 7*p2) / 10
	naive := math.Exp(-p.R*p.T) * (p1 + p2) / 2
	if !almostEqual(res.Value, weighted, 1e-12) {
		t.Fatalf("Value = %v, want size-weighted %v", res.Value, weighted)
	}
	if almostEqual(res.Value, naive, 1e-6) {
		t.Fatalf("Value must not equal the unweighted mean of means %v", naive)
	}
}

func TestMergeMatchesWholeVector(t *testing.T) {
	payoffs := []float64{0, 0, 3.5, 1, 0, 8, 2.25, 0, 0, 4, 6.5, 0, 0.75}
	whole, err := Summarize(payoffs)
	if err != nil {
		t.Fatal(err)
	}

	for _, cuts := range [][]int{{1}, {4, 9}, {6}, {2, 3, 11}} {
		var parts []Summary
		start := 0
		for _, end := range append(cuts, len(payoffs)) {
			s, err := Summarize(payoffs[start:end])
			if err != nil {
				t.Fatal(err)
			}
			parts = append(parts, s)
			start = end
		}
		merged, err := Merge(parts...)
		if err != nil {
			t.Fatal(err)
		}
		if merged.Count != whole.Count || !almostEqual(merged.Mean, whole.Mean, 1e-12) || !almostEqual(merged.M2, whole.M2, 1e-9) {
			t.Fatalf("cuts %v: merged %+v, whole %+v", cuts, merged, whole)
		}
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	a := Summary{Count: 4, Mean: 1.5, M2: 3}
	b := Summary{Count: 3, Mean: 4, M2: 0.5}
	c := Summary{Count: 5, Mean: 0.2, M2: 1.1}

	x, _ := Merge(a, b, c)
	y, _ := Merge(c, a, b)
	if x.Count != y.Count || !almostEqual(x.Mean, y.Mean, 1e-12) || !almostEqual(x.M2, y.M2, 1e-12) {
		t.Fatalf("merge depends on order: %+v vs %+v", x, y)
	}
}

func TestMergeRejectsEmptyParts(t *testing.T) {
	if _, err := Merge(); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if _, err := Merge(Summary{Count: 2, Mean: 1}, Summary{}); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestResultHelpers(t *testing.T) {
	r := Result{Value: 2.123456, StdErr: 0.01}
	lo, hi := r.ConfidenceInterval(1.96)
	if !almostEqual(lo, 2.103856, 1e-9) || !almostEqual(hi, 2.143056, 1e-9) {
		t.Fatalf("ConfidenceInterval = [%v, %v]", lo, hi)
	}
	if got := r.Decimal(4).String(); got != "2.1235" {
		t.Fatalf("Decimal(4) = %s", got)
	}
}
