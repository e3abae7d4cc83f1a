// Package aggregate 将终值价格集合转换为折现后的期权价格估计。
// 分块结果以充分统计量 Summary 表示，合并时按分块大小加权，从不对分块均值做简单平均。
package aggregate

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/xerrors"
	"gonum.org/v1/gonum/stat"
)

// Summary 一组收益的充分统计量。
type Summary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // 离差平方和 Σ(x - Mean)²
}

// Variance 样本方差 (无偏)，Count < 2 时为 0。
func (s Summary) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

// Result 定价结果。
type Result struct {
	Value  float64 `json:"value"`
	StdErr float64 `json:"std_err"`
	Paths  int     `json:"paths"`
}

// ConfidenceInterval 返回 Value ± z·StdErr。
func (r Result) ConfidenceInterval(z float64) (lo, hi float64) {
	return r.Value - z*r.StdErr, r.Value + z*r.StdErr
}

// Decimal 以指定小数位返回价格，用于报表与接口输出。
func (r Result) Decimal(places int32) decimal.Decimal {
	return decimal.NewFromFloat(r.Value).Round(places)
}

// Payoffs 计算看涨期权收益 max(S - K, 0)。NaN 保持为 NaN 以便后续检测。
func Payoffs(terminal []float64, strike float64) []float64 {
	out := make([]float64, len(terminal))
	for i, s := range terminal {
		if math.IsNaN(s) {
			out[i] = s
			continue
		}
		out[i] = math.Max(s-strike, 0)
	}
	return out
}

// Summarize 计算收益向量的均值与离差平方和。
func Summarize(payoffs []float64) (Summary, error) {
	if len(payoffs) == 0 {
		return Summary{}, xerrors.InvalidInput("payoff vector is empty")
	}
	for i, v := range payoffs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Summary{}, xerrors.NumericInstability("payoff[%d] = %v", i, v).WithContext("index", i)
		}
	}

	if len(payoffs) == 1 {
		return Summary{Count: 1, Mean: payoffs[0]}, nil
	}

	mean, variance := stat.MeanVariance(payoffs, nil)
	s := Summary{
		Count: len(payoffs),
		Mean:  mean,
		M2:    variance * float64(len(payoffs)-1),
	}
	if math.IsInf(s.Mean, 0) || math.IsNaN(s.Mean) || math.IsInf(s.M2, 0) || math.IsNaN(s.M2) {
		return Summary{}, xerrors.NumericInstability("payoff moments overflow: mean=%v m2=%v", s.Mean, s.M2)
	}
	return s, nil
}

// Merge 合并多个分块统计量：均值按分块大小加权，M2 使用 Chan 等人的并行合并公式。
// 合并满足交换律与结合律，分块完成顺序不影响结果。
func Merge(parts ...Summary) (Summary, error) {
	if len(parts) == 0 {
		return Summary{}, xerrors.InvalidInput("nothing to merge")
	}

	var acc Summary
	for i, part := range parts {
		if part.Count < 1 {
			return Summary{}, xerrors.InvalidInput("part %d has count %d", i, part.Count)
		}
		if acc.Count == 0 {
			acc = part
			continue
		}
		n := acc.Count + part.Count
		delta := part.Mean - acc.Mean
		weight := float64(part.Count) / float64(n)
		acc.M2 += part.M2 + delta*delta*float64(acc.Count)*weight
		acc.Mean += delta * weight
		acc.Count = n
	}
	if math.IsInf(acc.Mean, 0) || math.IsNaN(acc.Mean) {
		return Summary{}, xerrors.NumericInstability("merged mean = %v", acc.Mean)
	}
	return acc, nil
}

// NewResult 对统计量折现并计算标准误差 e^{-rT}·std/√n。
func NewResult(s Summary, p option.Params) (Result, error) {
	if s.Count < 1 {
		return Result{}, xerrors.InvalidInput("path count must be >= 1, got %d", s.Count)
	}
	discount := p.Discount()
	res := Result{
		Value:  discount * s.Mean,
		StdErr: discount * math.Sqrt(s.Variance()/float64(s.Count)),
		Paths:  s.Count,
	}
	if math.IsNaN(res.Value) || math.IsInf(res.Value, 0) || math.IsNaN(res.StdErr) || math.IsInf(res.StdErr, 0) {
		return Result{}, xerrors.NumericInstability("discounted value = %v, std err = %v", res.Value, res.StdErr)
	}
	return res, nil
}

// Aggregate 由终值价格集合直接得到定价结果。
func Aggregate(terminal []float64, p option.Params) (Result, error) {
	if len(terminal) == 0 {
		return Result{}, xerrors.InvalidInput("terminal price ensemble is empty")
	}
	s, err := Summarize(Payoffs(terminal, p.K))
	if err != nil {
		return Result{}, err
	}
	return NewResult(s, p)
}
