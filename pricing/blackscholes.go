package pricing

import (
	"math"

	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/xerrors"
)

// BlackScholesCall 欧式看涨期权的 Black-Scholes 解析价，用作蒙特卡洛收敛的参照。
// σ = 0 时退化为折现后的确定性内在价值 max(S0 - K·e^{-rT}, 0)。
func BlackScholesCall(c option.Contract) (float64, error) {
	if err := c.CheckFinite(); err != nil {
		return 0, err
	}
	if c.S0 <= 0 || c.K <= 0 || c.T <= 0 || c.Sigma < 0 {
		return 0, xerrors.InvalidInput("contract out of domain: S0=%v K=%v T=%v sigma=%v", c.S0, c.K, c.T, c.Sigma)
	}

	discountedStrike := c.K * math.Exp(-c.R*c.T)
	if c.Sigma == 0 {
		return math.Max(c.S0-discountedStrike, 0), nil
	}

	volSqrtT := c.Sigma * math.Sqrt(c.T)
	d1 := (math.Log(c.S0/c.K) + (c.R+0.5*c.Sigma*c.Sigma)*c.T) / volSqrtT
	d2 := d1 - volSqrtT
	return c.S0*normCDF(d1) - discountedStrike*normCDF(d2), nil
}

// normCDF 标准正态分布累积函数。
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
