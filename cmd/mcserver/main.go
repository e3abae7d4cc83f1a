// mcserver 以 HTTP 服务的形式提供蒙特卡洛定价，整个进程生命周期内持有同一个常驻 worker 池。
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/montecarlo/api"
	"github.com/wyfcoding/montecarlo/app"
	"github.com/wyfcoding/montecarlo/bootstrap"
	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/engine"
	"github.com/wyfcoding/montecarlo/health"
	"github.com/wyfcoding/montecarlo/limiter"
	"github.com/wyfcoding/montecarlo/metrics"
	"github.com/wyfcoding/montecarlo/pricing"
	"github.com/wyfcoding/montecarlo/server"
	"github.com/wyfcoding/montecarlo/worker"
	"golang.org/x/time/rate"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to TOML config; built-in defaults are used when empty")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		slog.Error("mcserver exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	b := bootstrap.New("mcserver", version)
	if err := b.Initialize(configPath); err != nil {
		return err
	}
	cfg := b.Config
	if addr != "" {
		cfg.Server.Addr = addr
	}
	logger := b.Logger.Logger
	config.PrintWithMask(cfg)

	m := metrics.NewMetrics(cfg.Server.Name)
	m.RegisterBuildInfo(cfg.Server.Name, cfg.Version)

	kind := pricing.DefaultEngine
	if cfg.Engine.Kind != "" {
		kind = engine.Kind(cfg.Engine.Kind)
	}
	pricer, err := pricing.NewPricer(
		pricing.WithEngine(kind),
		pricing.WithLogger(b.Logger.Named("pricing")),
		pricing.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis" {
		redisClient = limiter.NewRedisClient(cfg.Redis)
	}
	lim, err := limiter.New(cfg.RateLimit, redisClient)
	if err != nil {
		return err
	}
	if local, ok := lim.(*limiter.LocalLimiter); ok {
		config.RegisterReloadHook(func(c *config.Config) {
			local.SetLimit(rate.Limit(c.RateLimit.Rate), c.RateLimit.Burst)
			logger.Info("rate limit reloaded", "rate", c.RateLimit.Rate, "burst", c.RateLimit.Burst)
		})
	}

	pool := worker.NewPool(
		worker.WithName(cfg.Pool.Name),
		worker.WithSize(cfg.Pool.Size),
		worker.WithQueueSize(cfg.Pool.QueueSize),
		worker.WithLogger(b.Logger.Named("worker")),
		worker.WithMetrics(m),
	)

	probe := health.NewProbe(0)
	probe.AddCritical("worker_pool", health.PoolChecker(pool))
	if redisClient != nil {
		probe.AddOptional("redis", health.RedisChecker(redisClient))
	}

	router := api.NewRouter(api.Deps{
		Pricer:  pricer,
		Pool:    pool,
		Limiter: lim,
		Metrics: m,
		Probe:   probe,
		Logger:  b.Logger.Named("http"),
		Config:  cfg,
	})
	httpServer := server.NewGinServer(router, cfg.Server, b.Logger.Named("server"))

	// 钩子逆序停止：先关闭 worker 池与 Redis 连接，最后刷新追踪数据。
	hooks := []app.Hook{
		{
			Name:   "tracer",
			OnStop: b.SetupTracing(),
		},
		{
			Name: "worker-pool",
			OnStop: func(context.Context) error {
				pool.Stop()
				return nil
			},
		},
	}
	if redisClient != nil {
		hooks = append(hooks, app.Hook{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				// 限流失败时放行请求，Redis 不可用不阻止服务启动。
				if err := redisClient.Ping(ctx).Err(); err != nil {
					logger.Warn("redis unreachable, rate limiting will fail open", "addrs", cfg.Redis.Addrs, "error", err)
				}
				return nil
			},
			OnStop: func(context.Context) error {
				return redisClient.Close()
			},
		})
	}

	return app.New(cfg.Server.Name, logger,
		app.WithServer(httpServer),
		app.WithHook(hooks...),
	).Run(context.Background())
}
