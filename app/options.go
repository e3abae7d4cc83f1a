package app

import (
	"time"

	"github.com/wyfcoding/montecarlo/server"
)

const defaultShutdownTimeout = 15 * time.Second

// Option 是一个函数类型，用于配置应用程序选项。
type Option func(*options)

type options struct {
	servers         []server.Server
	hooks           []Hook
	shutdownTimeout time.Duration
}

// WithServer 添加一个或多个服务器，启动时并发运行，关闭时先于所有 Hook 的 OnStop 完成排空。
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithHook 注册生命周期钩子。
func WithHook(hooks ...Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithShutdownTimeout 设置关闭阶段的总超时。
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}
