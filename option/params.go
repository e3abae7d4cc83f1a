// Package option 定义欧式看涨期权合约与蒙特卡洛模拟精度参数。
// 参数在一次定价请求内只构造一次，以值的形式传递给每个 worker，不可变。
package option

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/wyfcoding/montecarlo/xerrors"
)

// Contract 欧式看涨期权合约。
type Contract struct {
	S0    float64 `json:"s0"    mapstructure:"s0"    toml:"s0"    validate:"gt=0"`  // 标的初始价格
	K     float64 `json:"k"     mapstructure:"k"     toml:"k"     validate:"gt=0"`  // 行权价
	R     float64 `json:"r"     mapstructure:"r"     toml:"r"`                      // 无风险利率
	Sigma float64 `json:"sigma" mapstructure:"sigma" toml:"sigma" validate:"gte=0"` // 年化波动率
	T     float64 `json:"t"     mapstructure:"t"     toml:"t"     validate:"gt=0"`  // 到期时间 (年)
}

// Resolution 模拟精度：时间步数 M 与路径数 I。
type Resolution struct {
	Steps int `json:"m" mapstructure:"steps" toml:"steps" validate:"gte=1"`
	Paths int `json:"i" mapstructure:"paths" toml:"paths" validate:"gte=1"`
}

// Params 一次定价请求的全部常量参数。
type Params struct {
	Contract
	Resolution
}

// Default 返回基准测试使用的默认参数 (S0=100, K=105, r=5%, σ=12%, T=0.5, M=1000, I=100000)。
func Default() Params {
	return Params{
		Contract:   Contract{S0: 100, K: 105, R: 0.05, Sigma: 0.12, T: 0.5},
		Resolution: Resolution{Steps: 1000, Paths: 100_000},
	}
}

// New 组装并校验参数。
func New(c Contract, r Resolution) (Params, error) {
	p := Params{Contract: c, Resolution: r}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// WithPaths 返回路径数替换后的副本，用于分块。
func (p Params) WithPaths(n int) Params {
	p.Paths = n
	return p
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// CheckFinite 按 S0、K、R、Sigma、T 的顺序检查，报告第一个 NaN 或 ±Inf 字段。
func (c Contract) CheckFinite() error {
	fields := []struct {
		name string
		v    float64
	}{{"S0", c.S0}, {"K", c.K}, {"R", c.R}, {"Sigma", c.Sigma}, {"T", c.T}}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return xerrors.InvalidInput("%s must be finite, got %v", f.name, f.v).WithContext("field", f.name)
		}
	}
	return nil
}

// Validate 校验参数，失败时返回 InvalidInput，不做任何截断修正。
func (p Params) Validate() error {
	if err := p.CheckFinite(); err != nil {
		return err
	}

	err := getValidator().Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return xerrors.InvalidInput("%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s%s, got %v", fe.Field(), fe.Tag(), paramSuffix(fe.Param()), fe.Value()))
	}
	return xerrors.InvalidInput("%s", strings.Join(msgs, "; ")).WithContext("field", verrs[0].Field())
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return "=" + param
}

// Dt 单步时间间隔 T/M。
func (p Params) Dt() float64 {
	return p.T / float64(p.Steps)
}

// StepDrift 单步对数漂移 (r - σ²/2)·dt。
func (p Params) StepDrift() float64 {
	return (p.R - 0.5*p.Sigma*p.Sigma) * p.Dt()
}

// StepVol 单步对数波动 σ·√dt。
func (p Params) StepVol() float64 {
	return p.Sigma * math.Sqrt(p.Dt())
}

// Drift 全期限对数漂移 (r - σ²/2)·T。
func (p Params) Drift() float64 {
	return (p.R - 0.5*p.Sigma*p.Sigma) * p.T
}

// Vol 全期限对数波动 σ·√T。
func (p Params) Vol() float64 {
	return p.Sigma * math.Sqrt(p.T)
}

// Discount 折现因子 e^{-rT}。
func (p Params) Discount() float64 {
	return math.Exp(-p.R * p.T)
}
