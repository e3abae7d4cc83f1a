// Package engine 实现几何布朗运动终值价格的蒙特卡洛路径引擎。
//
// 三种实现在分布上等价，终值均服从对数均值 (r-σ²/2)T、对数标准差 σ√T 的对数正态分布：
//
//   - Stepwise:  逐步迭代 S ← S·exp(drift_dt + vol_dt·z)，M·I 次抽样与 M·I 次指数运算；
//   - Summation: 每条路径抽取 M 个正态数求和后一次性取指数，M·I 次抽样、I 次指数运算；
//   - Exact:     每条路径仅抽取一个正态数，I 次抽样、I 次指数运算。
//
// Stepwise 与 Summation 按相同顺序 (逐路径、每路径 M 个) 消费抽样，M=1 时逐位一致。
package engine

import (
	"math"
	"strings"

	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/rng"
	"github.com/wyfcoding/montecarlo/xerrors"
)

// Kind 引擎类型。
type Kind string

const (
	KindStepwise  Kind = "stepwise"
	KindSummation Kind = "summation"
	KindExact     Kind = "exact"
)

// Kinds 返回全部已注册的引擎类型。
func Kinds() []Kind {
	return []Kind{KindStepwise, KindSummation, KindExact}
}

// PathEngine 生成 n 条独立路径的终值价格。
// src 由调用方独占提供，实现不得保留或共享它。
type PathEngine interface {
	Name() Kind
	Simulate(p option.Params, n int, src rng.Normal) ([]float64, error)
	SimulateInto(dst []float64, p option.Params, src rng.Normal) error
}

// ParseKind 解析引擎名称 (不区分大小写)。
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", xerrors.UnknownEngine(name)
}

// New 按类型创建引擎。
func New(kind Kind) (PathEngine, error) {
	switch kind {
	case KindStepwise:
		return Stepwise{}, nil
	case KindSummation:
		return Summation{}, nil
	case KindExact:
		return Exact{}, nil
	default:
		return nil, xerrors.UnknownEngine(string(kind))
	}
}

// MustNew 同 New，未知类型时 panic，仅用于常量类型。
func MustNew(kind Kind) PathEngine {
	e, err := New(kind)
	if err != nil {
		panic(err)
	}
	return e
}

func simulate(e PathEngine, p option.Params, n int, src rng.Normal) ([]float64, error) {
	if n < 1 {
		return nil, xerrors.InvalidInput("path count must be >= 1, got %d", n)
	}
	dst := make([]float64, n)
	if err := e.SimulateInto(dst, p, src); err != nil {
		return nil, err
	}
	return dst, nil
}

func checkInto(dst []float64, p option.Params) error {
	if len(dst) < 1 {
		return xerrors.InvalidInput("path count must be >= 1, got %d", len(dst))
	}
	if p.Steps < 1 {
		return xerrors.InvalidInput("step count must be >= 1, got %d", p.Steps)
	}
	return nil
}

// Stepwise 逐步迭代引擎。
type Stepwise struct{}

func (Stepwise) Name() Kind { return KindStepwise }

func (e Stepwise) Simulate(p option.Params, n int, src rng.Normal) ([]float64, error) {
	return simulate(e, p, n, src)
}

func (Stepwise) SimulateInto(dst []float64, p option.Params, src rng.Normal) error {
	if err := checkInto(dst, p); err != nil {
		return err
	}
	drift := p.StepDrift()
	vol := p.StepVol()

	for i := range dst {
		s := p.S0
		for range p.Steps {
			// 显式 float64 转换禁止 FMA 融合，保证与 Summation 在 M=1 时逐位一致。
			s *= math.Exp(drift + float64(vol*src.NormFloat64()))
		}
		dst[i] = s
	}
	return nil
}

// Summation 求和化简引擎：M 个独立增量之和服从 N(M·drift_dt, M·vol_dt²)。
type Summation struct{}

func (Summation) Name() Kind { return KindSummation }

func (e Summation) Simulate(p option.Params, n int, src rng.Normal) ([]float64, error) {
	return simulate(e, p, n, src)
}

func (Summation) SimulateInto(dst []float64, p option.Params, src rng.Normal) error {
	if err := checkInto(dst, p); err != nil {
		return err
	}
	drift := p.Drift()
	vol := p.StepVol()

	for i := range dst {
		var sum float64
		for range p.Steps {
			sum += src.NormFloat64()
		}
		dst[i] = p.S0 * math.Exp(drift+float64(vol*sum))
	}
	return nil
}

// Exact 单次抽样引擎，与 M 无关。
type Exact struct{}

func (Exact) Name() Kind { return KindExact }

func (e Exact) Simulate(p option.Params, n int, src rng.Normal) ([]float64, error) {
	return simulate(e, p, n, src)
}

func (Exact) SimulateInto(dst []float64, p option.Params, src rng.Normal) error {
	if err := checkInto(dst, p); err != nil {
		return err
	}
	drift := p.Drift()
	vol := p.Vol()

	for i := range dst {
		dst[i] = p.S0 * math.Exp(drift+float64(vol*src.NormFloat64()))
	}
	return nil
}
