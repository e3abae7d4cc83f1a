// Package bootstrap 完成两个可执行程序共用的启动步骤：加载配置、初始化日志、ID 生成器与链路追踪。
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/idgen"
	"github.com/wyfcoding/montecarlo/logging"
	"github.com/wyfcoding/montecarlo/tracing"
)

// Bootstrapper 处理通用基础设施的初始化
type Bootstrapper struct {
	ServiceName string
	Version     string
	Config      config.Config
	Logger      *logging.Logger
}

// New 创建一个新的引导器实例
func New(serviceName, version string) *Bootstrapper {
	return &Bootstrapper{
		ServiceName: serviceName,
		Version:     version,
		Config:      config.Default(),
	}
}

// Initialize 在默认配置之上叠加配置文件 (path 为空时跳过)，随后按配置初始化全局日志与 ID 生成器。
func (b *Bootstrapper) Initialize(path string) error {
	if path != "" {
		if err := config.Load(path, &b.Config); err != nil {
			slog.Error("failed to load config", "path", path, "error", err)
			return err
		}
	} else if err := config.Validate(&b.Config); err != nil {
		return err
	}
	if b.Version != "" {
		b.Config.Version = b.Version
	}

	b.Logger = logging.InitLogger(LogConfig(b.ServiceName, "main", b.Config.Log))

	if err := idgen.Init(b.Config.Snowflake); err != nil {
		b.Logger.Error("failed to init id generator", "error", err)
		return err
	}

	b.Logger.Info("bootstrap completed", "service", b.ServiceName, "version", b.Config.Version, "config", path)
	return nil
}

// LogConfig 将配置文件中的日志段转换为 logging.Config。
func LogConfig(service, module string, c config.LogConfig) logging.Config {
	return logging.Config{
		Service:    service,
		Module:     module,
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		Console:    c.Console,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

// SetupTracing 初始化 OpenTelemetry 追踪器。初始化失败只记录日志，返回空操作的关闭函数。
func (b *Bootstrapper) SetupTracing() func(context.Context) error {
	cfg := b.Config.Tracing
	if cfg.ServiceName == "" {
		cfg.ServiceName = b.ServiceName
	}
	shutdown, err := tracing.InitTracer(cfg)
	if err != nil {
		b.Logger.Error("failed to init tracer", "error", err)
		return func(context.Context) error { return nil }
	}
	return shutdown
}
