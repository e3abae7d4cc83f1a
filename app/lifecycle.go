package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Hook 定义了生命周期钩子，包含启动和停止逻辑
type Hook struct {
	Name    string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Lifecycle 管理应用程序中多个组件的生命周期
type Lifecycle struct {
	logger  *slog.Logger
	hooks   []Hook
	started int
	mu      sync.Mutex
}

// NewLifecycle 创建一个新的生命周期管理器
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Append 添加一个生命周期钩子
func (l *Lifecycle) Append(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// Start 按注册顺序启动组件。某个组件失败时，已启动的组件会被逆序停止。
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	hooks := append([]Hook(nil), l.hooks...)
	l.mu.Unlock()

	for i, hook := range hooks {
		if hook.OnStart != nil {
			l.logger.Info("Lifecycle: starting component", "name", hook.Name)
			if err := hook.OnStart(ctx); err != nil {
				l.logger.Error("Lifecycle: failed to start component", "name", hook.Name, "error", err)
				return errors.Join(err, l.stop(ctx, i))
			}
		}
		l.mu.Lock()
		l.started = i + 1
		l.mu.Unlock()
	}
	return nil
}

// Stop 以相反的顺序停止已启动的组件，返回全部停止错误。
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	n := l.started
	l.mu.Unlock()
	return l.stop(ctx, n)
}

func (l *Lifecycle) stop(ctx context.Context, n int) error {
	l.mu.Lock()
	hooks := append([]Hook(nil), l.hooks[:n]...)
	l.started = 0
	l.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if hook.OnStop == nil {
			continue
		}
		l.logger.Info("Lifecycle: stopping component", "name", hook.Name)
		if err := hook.OnStop(ctx); err != nil {
			l.logger.Error("Lifecycle: failed to stop component", "name", hook.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
