// Package limiter 提供定价接口的请求限流：单实例令牌桶与基于 Redis 的分布式滑动窗口.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/montecarlo/breaker"
	"github.com/wyfcoding/montecarlo/config"
	"golang.org/x/time/rate"
)

// Limiter 接口定义了限流器的通用行为。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error) // 检查 key 对应的调用方是否允许通过。
}

// LocalLimiter 基于令牌桶的本地限流器，每个 key 持有独立的桶。
type LocalLimiter struct {
	buckets sync.Map // key -> *rate.Limiter
	mu      sync.RWMutex
	rate    rate.Limit
	burst   int
}

// NewLocalLimiter 创建本地限流器。
// r: 每秒生成的令牌数；b: 桶容量，即允许的瞬时突发请求数。
func NewLocalLimiter(r rate.Limit, b int) *LocalLimiter {
	return &LocalLimiter{rate: r, burst: b}
}

// Allow 从 key 对应的令牌桶中取一个令牌。
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	v, ok := l.buckets.Load(key)
	if !ok {
		l.mu.RLock()
		v, _ = l.buckets.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
		l.mu.RUnlock()
	}
	return v.(*rate.Limiter).Allow(), nil
}

// SetLimit 调整速率与桶容量，已存在的桶立即生效。
func (l *LocalLimiter) SetLimit(r rate.Limit, b int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate, l.burst = r, b
	l.buckets.Range(func(_, v any) bool {
		lim := v.(*rate.Limiter)
		lim.SetLimit(r)
		lim.SetBurst(b)
		return true
	})
}

// slidingWindowScript 在一次原子执行内完成过期清理、计数与记录。
// 成员带随机后缀，同一毫秒内的多次请求不会互相覆盖。
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, start)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, now .. '-' .. ARGV[5])
	redis.call('PEXPIRE', key, ttl)
	return 1
end
return 0
`

// RedisLimiter 基于 Redis ZSet 滑动窗口的分布式限流器，多个服务实例共享同一窗口。
type RedisLimiter struct {
	client  redis.UniversalClient
	script  *redis.Script
	breaker *breaker.Breaker
	prefix  string
	limit   int
	window  time.Duration
	seq     sync.Mutex
	n       uint64
}

// RedisOption 配置 RedisLimiter。
type RedisOption func(*RedisLimiter)

// WithBreaker 为 Redis 调用加上熔断保护。熔断期间 Allow 立即返回 breaker.ErrOpen。
func WithBreaker(b *breaker.Breaker) RedisOption {
	return func(l *RedisLimiter) {
		l.breaker = b
	}
}

// NewRedisLimiter 创建分布式限流器。
// limit: 窗口内允许的最大请求数；window: 窗口长度。
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration, opts ...RedisOption) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	l := &RedisLimiter{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		prefix: "montecarlo:ratelimit:",
		limit:  limit,
		window: window,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow 检查 key 在当前窗口内是否仍有余量。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return breaker.Execute(l.breaker, func() (bool, error) {
		return l.allow(ctx, key)
	})
}

func (l *RedisLimiter) allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	startMs := now.Add(-l.window).UnixMilli()

	l.seq.Lock()
	l.n++
	member := l.n
	l.seq.Unlock()

	res, err := l.script.Run(ctx, l.client, []string{l.prefix + key},
		nowMs, startMs, l.limit, l.window.Milliseconds()*2, member).Int()
	if err != nil {
		return false, fmt.Errorf("redis sliding window: %w", err)
	}
	return res == 1, nil
}

// NewRedisClient 按配置创建 Redis 客户端，单地址为单机模式，多地址为集群模式。
func NewRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

// New 按配置选择后端。未启用限流时返回 nil。
func New(cfg config.RateLimitConfig, client redis.UniversalClient) (Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "", "local":
		return NewLocalLimiter(rate.Limit(cfg.Rate), cfg.Burst), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter requires a redis client")
		}
		window := cfg.Window
		if window <= 0 {
			window = time.Second
		}
		limit := cfg.Rate * int(window/time.Second)
		if limit < 1 {
			limit = max(cfg.Rate, 1)
		}
		br := breaker.New(breaker.Settings{Name: "ratelimit_redis", Config: cfg.Breaker}, nil)
		return NewRedisLimiter(client, limit, window, WithBreaker(br)), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.Backend)
	}
}
