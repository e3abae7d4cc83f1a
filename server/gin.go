// Package server 封装 HTTP 服务的启动与优雅关闭。
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/montecarlo/config"
)

const defaultShutdownTimeout = 10 * time.Second

// GinServer 封装了标准的 http.Server，专门用于运行 Gin 引擎。
type GinServer struct {
	server *http.Server
	logger *slog.Logger
	ready  chan struct{}
	addr   string
}

// NewGinServer 创建一个新的 Gin 服务器实例，超时参数取自配置。
func NewGinServer(engine *gin.Engine, cfg config.ServerConfig, logger *slog.Logger) *GinServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GinServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		logger: logger,
		ready:  make(chan struct{}),
		addr:   cfg.Addr,
	}
}

// Addr 返回实际监听地址；Ready 关闭之前为配置地址。
func (s *GinServer) Addr() string {
	return s.addr
}

// Ready 在开始监听后关闭。
func (s *GinServer) Ready() <-chan struct{} {
	return s.ready
}

// Start 启动 HTTP 服务器并阻塞，ctx 取消时执行优雅关闭。
func (s *GinServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	close(s.ready)
	s.logger.Info("Starting Gin server", "addr", s.addr)

	errChan := make(chan error, 1)
	go func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Gin server stopping due to context cancellation")
		return s.Stop(context.Background())
	case serveErr := <-errChan:
		return serveErr
	}
}

// Stop 优雅地停止服务器，等待进行中的请求完成。
func (s *GinServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Gin server gracefully")
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
