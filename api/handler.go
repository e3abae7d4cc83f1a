// Package api 暴露定价服务的 HTTP 接口。服务在整个生命周期内持有同一个常驻 worker 池。
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/aggregate"
	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/health"
	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/pricing"
	"github.com/wyfcoding/montecarlo/response"
	"github.com/wyfcoding/montecarlo/worker"
	"github.com/wyfcoding/montecarlo/xerrors"
)

const (
	defaultPlaces = 4
	maxPlaces     = 10
	// z95 为 95% 双侧置信区间的标准正态分位数。
	z95 = 1.959963984540054
)

// PriceRequest 定价请求。合约与精度字段平铺在顶层 (s0, k, r, sigma, t, m, i)。
type PriceRequest struct {
	option.Contract
	option.Resolution
	Seed     *uint64 `json:"seed,omitempty"`
	Engine   string  `json:"engine"`
	Workers  int     `json:"workers"`
	Places   int32   `json:"places"`
	Parallel bool    `json:"parallel"`
}

// PriceResponse 定价结果。Price 为按 places 四舍五入后的十进制字符串。
type PriceResponse struct {
	Engine       string   `json:"engine"`
	Mode         string   `json:"mode"`
	Price        string   `json:"price"`
	Value        float64  `json:"value"`
	StdErr       float64  `json:"std_err"`
	CILow        float64  `json:"ci95_low"`
	CIHigh       float64  `json:"ci95_high"`
	BlackScholes *float64 `json:"black_scholes,omitempty"` // 解析参照价，无法计算时省略
	ElapsedMs    float64  `json:"elapsed_ms"`
	Paths        int      `json:"paths"`
	Steps        int      `json:"steps"`
}

// Handler 定价接口处理器。
type Handler struct {
	pricer         *pricing.Pricer
	pool           *worker.Pool
	logger         *slog.Logger
	limits         config.ServerConfig
	collectTimeout time.Duration
}

// NewHandler 创建处理器。pricer 的引擎作为请求未指定引擎时的默认值，
// 服务限额取 cfg.Server，并行收集超时取 cfg.Engine.CollectTimeout。
func NewHandler(pricer *pricing.Pricer, pool *worker.Pool, cfg config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pricer:         pricer,
		pool:           pool,
		limits:         cfg.Server,
		collectTimeout: cfg.Engine.CollectTimeout,
		logger:         logger,
	}
}

// Register 注册业务路由。
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/price", h.Price)
}

// Price 处理 POST /v1/price。
func (h *Handler) Price(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(c.Request.Context(), "malformed pricing request", "error", err)
		response.Error(c, xerrors.InvalidInput("malformed request body: %v", err))
		return
	}
	if err := h.checkLimits(req); err != nil {
		response.Error(c, err)
		return
	}

	pr := h.pricer
	if req.Engine != "" {
		kind, err := engine.ParseKind(req.Engine)
		if err != nil {
			response.Error(c, err)
			return
		}
		if pr, err = pr.WithKind(kind); err != nil {
			response.Error(c, err)
			return
		}
	}

	var opts []pricing.CallOption
	if req.Seed != nil {
		opts = append(opts, pricing.WithSeed(*req.Seed))
	}

	ctx := c.Request.Context()
	start := time.Now()
	var (
		res  aggregate.Result
		err  error
		mode = pricing.ModeSingle
	)
	if req.Parallel {
		mode = pricing.ModeParallel
		if req.Workers > 0 {
			opts = append(opts, pricing.WithWorkers(req.Workers))
		}
		if h.collectTimeout > 0 {
			opts = append(opts, pricing.WithCollectTimeout(h.collectTimeout))
		}
		res, err = pr.PriceParallel(ctx, req.Contract, req.Resolution, h.pool, opts...)
	} else {
		res, err = pr.Price(ctx, req.Contract, req.Resolution, opts...)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	elapsed := time.Since(start)

	places := req.Places
	if places <= 0 {
		places = defaultPlaces
	}
	lo, hi := res.ConfidenceInterval(z95)

	response.Success(c, PriceResponse{
		Engine:       string(pr.Engine()),
		Mode:         string(mode),
		Price:        res.Decimal(places).StringFixed(places),
		Value:        res.Value,
		StdErr:       res.StdErr,
		CILow:        lo,
		CIHigh:       hi,
		BlackScholes: h.reference(ctx, req.Contract),
		ElapsedMs:    float64(elapsed.Microseconds()) / 1000,
		Paths:        res.Paths,
		Steps:        req.Steps,
	})
}

// reference 计算 Black-Scholes 参照价；失败时记录日志并返回 nil，不影响定价结果。
func (h *Handler) reference(ctx context.Context, c option.Contract) *float64 {
	bs, err := pricing.BlackScholesCall(c)
	if err != nil {
		h.logger.WarnContext(ctx, "black-scholes reference unavailable", "error", err)
		return nil
	}
	return &bs
}

func (h *Handler) checkLimits(req PriceRequest) error {
	if h.limits.MaxPaths > 0 && req.Paths > h.limits.MaxPaths {
		return xerrors.InvalidInput("i = %d exceeds the service limit of %d paths", req.Paths, h.limits.MaxPaths)
	}
	if h.limits.MaxSteps > 0 && req.Steps > h.limits.MaxSteps {
		return xerrors.InvalidInput("m = %d exceeds the service limit of %d steps", req.Steps, h.limits.MaxSteps)
	}
	if req.Places > maxPlaces {
		return xerrors.InvalidInput("places must be <= %d, got %d", maxPlaces, req.Places)
	}
	if req.Workers < 0 || (h.pool != nil && req.Workers > 4*h.pool.Size()) {
		return xerrors.InvalidInput("workers = %d out of range", req.Workers)
	}
	return nil
}

// HealthResponse 健康检查结果。
type HealthResponse struct {
	Status  string            `json:"status"`
	Pool    string            `json:"pool"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
	Workers int               `json:"workers"`
	Busy    int               `json:"busy"`
}

// Health 处理 GET /sys/health；关键依赖 (worker 池) 不可用时返回 503，可选依赖失败仅标记 degraded。
func Health(probe *health.Probe, pool *worker.Pool, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := probe.Check(c.Request.Context())
		h := HealthResponse{
			Status:  res.Status,
			Pool:    pool.Name(),
			Version: version,
			Checks:  res.Checks,
			Workers: pool.Active(),
			Busy:    pool.Busy(),
		}
		if res.Status == health.StatusDown {
			c.JSON(http.StatusServiceUnavailable, h)
			return
		}
		response.SuccessWithRawData(c, h)
	}
}
