// Package config 提供了统一的配置加载与管理能力.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wyfcoding/montecarlo/logging"
	"github.com/wyfcoding/montecarlo/option"
)

// Config 全局顶级配置结构.
type Config struct {
	Version   string          `mapstructure:"version"   toml:"version"`
	Log       LogConfig       `mapstructure:"log"       toml:"log"`
	Engine    EngineConfig    `mapstructure:"engine"    toml:"engine"`
	Pool      PoolConfig      `mapstructure:"pool"      toml:"pool"`
	Bench     BenchConfig     `mapstructure:"bench"     toml:"bench"`
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" toml:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"     toml:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   toml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"   toml:"tracing"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake" toml:"snowflake"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"`       // 日志级别。
	Format     string `mapstructure:"format"      toml:"format"`      // 日志格式（json/text）。
	File       string `mapstructure:"file"        toml:"file"`        // 日志文件路径，为空时输出到 stdout。
	Console    bool   `mapstructure:"console"     toml:"console"`     // 写文件时是否同时输出到控制台。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`    // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"` // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`     // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`    // 是否启用压缩。
}

// EngineConfig 定义默认的合约、模拟精度与路径引擎.
type EngineConfig struct {
	Kind       string            `mapstructure:"kind"       toml:"kind"       validate:"omitempty,oneof=stepwise summation exact"`
	Contract   option.Contract   `mapstructure:"contract"   toml:"contract"`
	Resolution option.Resolution `mapstructure:"resolution" toml:"resolution"`
	// Seed 为 0 时每次调用从 crypto/rand 取种子。
	Seed uint64 `mapstructure:"seed" toml:"seed"`
	// CollectTimeout 为 0 时不设收集超时，仅由调用方 ctx 控制。
	CollectTimeout time.Duration `mapstructure:"collect_timeout" toml:"collect_timeout"`
}

// Params 将配置中的合约与精度组装为定价参数.
func (e EngineConfig) Params() (option.Params, error) {
	return option.New(e.Contract, e.Resolution)
}

// PoolConfig 常驻 worker 池参数.
type PoolConfig struct {
	Name      string `mapstructure:"name"       toml:"name"`
	Size      int    `mapstructure:"size"       toml:"size"       validate:"gte=0"`
	QueueSize int    `mapstructure:"queue_size" toml:"queue_size" validate:"gte=0"`
}

// BenchConfig 基准实验参数.
type BenchConfig struct {
	PathScenarios []int  `mapstructure:"path_scenarios" toml:"path_scenarios" validate:"dive,gte=1"`
	StepScenarios []int  `mapstructure:"step_scenarios" toml:"step_scenarios" validate:"dive,gte=1"`
	FixedSteps    int    `mapstructure:"fixed_steps"    toml:"fixed_steps"    validate:"gte=0"`
	FixedPaths    int    `mapstructure:"fixed_paths"    toml:"fixed_paths"    validate:"gte=0"`
	Repeats       int    `mapstructure:"repeats"        toml:"repeats"        validate:"gte=0"`
	Workers       int    `mapstructure:"workers"        toml:"workers"        validate:"gte=0"`
	Output        string `mapstructure:"output"         toml:"output"`
}

// ServerConfig 定义 HTTP 服务的基础网络参数.
type ServerConfig struct {
	Name              string        `mapstructure:"name"                toml:"name"`
	Addr              string        `mapstructure:"addr"                toml:"addr"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        toml:"read_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" toml:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       toml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        toml:"idle_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"     toml:"request_timeout"`
	SlowThreshold     time.Duration `mapstructure:"slow_threshold"      toml:"slow_threshold"`
	MaxPaths          int           `mapstructure:"max_paths"           toml:"max_paths"           validate:"gte=0"`
	MaxSteps          int           `mapstructure:"max_steps"           toml:"max_steps"           validate:"gte=0"`
}

// RateLimitConfig 定义令牌桶限流参数.
type RateLimitConfig struct {
	Backend string        `mapstructure:"backend" toml:"backend" validate:"omitempty,oneof=local redis"`
	Rate    int           `mapstructure:"rate"    toml:"rate"    validate:"gte=0"`
	Burst   int           `mapstructure:"burst"   toml:"burst"   validate:"gte=0"`
	Window  time.Duration `mapstructure:"window"  toml:"window"`
	Enabled bool          `mapstructure:"enabled" toml:"enabled"`

	// Breaker 保护 Redis 后端，熔断期间请求直接放行。
	Breaker CircuitBreakerConfig `mapstructure:"breaker" toml:"breaker"`
}

// CircuitBreakerConfig 熔断器参数.
type CircuitBreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
	MaxRequests uint32        `mapstructure:"max_requests" toml:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"     toml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"      toml:"timeout"`
}

// RedisConfig 定义 Redis 连接参数，供分布式限流使用.
type RedisConfig struct {
	Password     string        `mapstructure:"password"      toml:"password"`
	Addrs        []string      `mapstructure:"addrs"         toml:"addrs"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
	DB           int           `mapstructure:"db"            toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"     toml:"pool_size"`
}

// SnowflakeConfig 雪花算法分布式 ID 生成器参数.
type SnowflakeConfig struct {
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	Type      string `mapstructure:"type"       toml:"type"       validate:"omitempty,oneof=snowflake sonyflake"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id" validate:"gte=0"`
}

// TracingConfig 分布式链路追踪（OpenTelemetry）配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Port    string `mapstructure:"port"    toml:"port"`
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// Default 返回一份可直接运行的默认配置.
func Default() Config {
	p := option.Default()
	return Config{
		Version: "dev",
		Log:     LogConfig{Level: "info", Format: "json", MaxSize: 100, MaxBackups: 3, MaxAge: 7},
		Engine: EngineConfig{
			Kind:       "summation",
			Contract:   p.Contract,
			Resolution: p.Resolution,
		},
		Pool: PoolConfig{Name: "pricing", Size: 8, QueueSize: 64},
		Bench: BenchConfig{
			PathScenarios: []int{10_000, 25_000, 50_000, 75_000, 100_000},
			StepScenarios: []int{100, 500, 1000, 2500, 5000},
			FixedSteps:    1000,
			FixedPaths:    50_000,
			Repeats:       5,
			Workers:       8,
			Output:        "montecarlo_bench.csv",
		},
		Server: ServerConfig{
			Name:              "mcserver",
			Addr:              ":8080",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			RequestTimeout:    30 * time.Second,
			SlowThreshold:     2 * time.Second,
			MaxPaths:          5_000_000,
			MaxSteps:          10_000,
		},
		RateLimit: RateLimitConfig{
			Backend: "local",
			Rate:    20,
			Burst:   40,
			Window:  time.Second,
			Breaker: CircuitBreakerConfig{Enabled: true, MaxRequests: 1, Interval: 30 * time.Second, Timeout: 5 * time.Second},
		},
		Metrics:   MetricsConfig{Path: "/metrics", Enabled: true},
		Tracing:   TracingConfig{ServiceName: "montecarlo", SamplerRatio: 1},
		Snowflake: SnowflakeConfig{Type: "snowflake", MachineID: 1},
	}
}

var (
	vInstance = viper.New()
	hooksMu   sync.Mutex
	onReload  []func(*Config)
	validate  = validator.New(validator.WithRequiredStructEnabled())
)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	defer hooksMu.Unlock()
	onReload = append(onReload, hook)
}

// Validate 对配置执行结构体标签校验.
func Validate(conf any) error {
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Load 读取 TOML 配置文件并叠加 APP_ 前缀的环境变量，随后开启文件监听热更新.
// conf 在读取前应已填充默认值，文件中缺失的键保持默认值不变。
func Load(path string, conf *Config) error {
	vInstance.SetConfigFile(path)
	vInstance.SetConfigType("toml")

	vInstance.SetEnvPrefix("APP")
	vInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vInstance.AutomaticEnv()

	if err := vInstance.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := vInstance.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := Validate(conf); err != nil {
		return err
	}

	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		next := *conf
		if unmarshalErr := vInstance.Unmarshal(&next); unmarshalErr != nil {
			slog.Error("reload config unmarshal failed", "error", unmarshalErr)
			return
		}
		if validateErr := Validate(&next); validateErr != nil {
			slog.Error("reload config validation failed", "error", validateErr)
			return
		}

		*conf = next
		logging.SetLevel(conf.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		hooksMu.Lock()
		hooks := append([]func(*Config){}, onReload...)
		hooksMu.Unlock()
		for _, hook := range hooks {
			hook(conf)
		}
	})
	vInstance.WatchConfig()

	return nil
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)
		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}
