package server

import "context"

// Server 定义服务器生命周期契约：Start 阻塞直到 ctx 取消或出错，Stop 优雅关闭。
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Server = (*GinServer)(nil)
