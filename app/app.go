// Package app 管理可执行程序的生命周期：启动组件与服务器，监听退出信号，按序优雅关闭。
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// App 是应用程序的核心容器。
type App struct {
	name      string
	logger    *slog.Logger
	opts      options
	lifecycle *Lifecycle
}

// New 创建一个新的应用程序实例。
func New(name string, logger *slog.Logger, opts ...Option) *App {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	lc := NewLifecycle(logger)
	for _, h := range o.hooks {
		lc.Append(h)
	}
	return &App{name: name, logger: logger, opts: o, lifecycle: lc}
}

// Run 启动全部组件和服务器并阻塞，直到 ctx 取消、收到 SIGINT/SIGTERM 或任一服务器出错。
// 服务器排空之后才逆序执行各组件的 OnStop，因此进行中的请求仍能使用 worker 池等资源。
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("application starting", "name", a.name, "pid", os.Getpid())
	if err := a.lifecycle.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if len(a.opts.servers) == 0 {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}
	for _, srv := range a.opts.servers {
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error("server exited with error", "name", a.name, "error", runErr)
	}

	a.logger.Info("shutting down application", "name", a.name)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.shutdownTimeout)
	defer cancel()
	if err := a.lifecycle.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}

	if runErr == nil {
		a.logger.Info("application shut down gracefully", "name", a.name)
	}
	return runErr
}
