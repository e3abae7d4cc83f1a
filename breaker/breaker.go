// Package breaker 基于 gobreaker 为外部依赖 (分布式限流使用的 Redis) 提供熔断保护。
package breaker

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/metrics"
)

// ErrOpen 表示依赖当前处于熔断状态，调用未被执行。
var ErrOpen = errors.New("circuit breaker is open")

const (
	defaultFailureRatio = 0.5
	defaultMinRequests  = 5
)

// Breaker 封装了 gobreaker 实例。未启用时 Execute 直接调用被保护函数。
type Breaker struct {
	cb    *gobreaker.CircuitBreaker
	state *prometheus.GaugeVec
}

// Settings 定义了熔断器的初始化参数。
type Settings struct {
	Name         string
	Config       config.CircuitBreakerConfig
	FailureRatio float64
	MinRequests  uint32
	Logger       *slog.Logger
}

// New 初始化熔断器。m 非空时以 circuit_breaker_state{name} 暴露状态 (0 闭合, 1 半开, 2 打开)。
func New(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{}
	}

	failureRatio := st.FailureRatio
	if failureRatio <= 0 {
		failureRatio = defaultFailureRatio
	}
	minRequests := st.MinRequests
	if minRequests == 0 {
		minRequests = defaultMinRequests
	}
	logger := st.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var state *prometheus.GaugeVec
	if m != nil {
		state = m.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0: closed, 1: half-open, 2: open)",
		}, []string{"name"})
		state.WithLabelValues(st.Name).Set(float64(gobreaker.StateClosed))
	}

	return &Breaker{state: state, cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.Config.MaxRequests,
		Interval:    st.Config.Interval,
		Timeout:     st.Config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if state != nil {
				state.WithLabelValues(name).Set(float64(to))
			}
		},
	})}
}

// State 返回当前状态；未启用时恒为 closed。
func (b *Breaker) State() string {
	if b == nil || b.cb == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}

// Execute 执行受熔断保护的函数。熔断打开或半开期间超出探测配额时返回 ErrOpen。
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil || b.cb == nil {
		return fn()
	}

	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrOpen
		}
		return zero, err
	}
	return res.(T), nil
}
