package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/health"
	"github.com/wyfcoding/montecarlo/limiter"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/middleware"
	"github.com/wyfcoding/montecarlo/pricing"
	"github.com/wyfcoding/montecarlo/server"
	"github.com/wyfcoding/montecarlo/worker"
)

const (
	healthPath = "/sys/health"
	// maxBodyBytes 定价请求体很小，超出即视为异常请求。
	maxBodyBytes = 64 << 10
)

// Deps 组装路由所需的依赖。Limiter、Metrics 与 Probe 可为空，Probe 为空时只检查 worker 池。
type Deps struct {
	Pricer  *pricing.Pricer
	Pool    *worker.Pool
	Limiter limiter.Limiter
	Metrics *metrics.Metrics
	Probe   *health.Probe
	Logger  *slog.Logger
	Config  config.Config
}

// NewRouter 按固定顺序装配中间件并注册全部路由。
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsPath := d.Config.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	skip := []string{healthPath, metricsPath}

	mws := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.TracingMiddleware(d.Config.Server.Name, skip...),
		middleware.TraceIDHeader(),
		middleware.Logger(logger, skip...),
		middleware.Recovery(logger),
	}
	if d.Metrics != nil {
		mws = append(mws, middleware.HTTPMetricsMiddleware(d.Metrics, middleware.MetricsOptions{
			SlowThreshold: d.Config.Server.SlowThreshold,
			SkipPaths:     skip,
		}))
	}
	engine := server.NewDefaultGinEngine(mws...)

	probe := d.Probe
	if probe == nil {
		probe = health.NewProbe(0)
		probe.AddCritical("worker_pool", health.PoolChecker(d.Pool))
	}
	engine.GET(healthPath, Health(probe, d.Pool, d.Config.Version))
	if d.Metrics != nil && d.Config.Metrics.Enabled {
		engine.GET(metricsPath, gin.WrapH(d.Metrics.Handler()))
	}

	priced := engine.Group("",
		middleware.RateLimit(d.Limiter, logger),
		middleware.MaxBodyBytes(maxBodyBytes),
		middleware.Timeout(d.Config.Server.RequestTimeout),
	)
	NewHandler(d.Pricer, d.Pool, d.Config, logger).Register(priced)

	return engine
}
