// Package interfaces 定义 go-p2pstack 公共接口
//
// 本文件定义 Transport 接口，抽象底层传输协议。
package interfaces

import "context"

// Transport 定义传输层接口
//
// 传输层为拨出/接受的物理连接提供原始 Channel。
// 地址格式为 "scheme://address"，如 "tcp://127.0.0.1:4001"、"memory://node-a"。
type Transport interface {
	// Scheme 返回地址前缀，如 "tcp"
	Scheme() string

	// Dial 拨号
	Dial(ctx context.Context, addr string) (Channel, error)

	// Listen 监听
	Listen(addr string) (Listener, error)
}

// Listener 定义监听器接口
type Listener interface {
	// Accept 接受连接
	Accept(ctx context.Context) (Channel, error)

	// Addr 返回实际监听地址（含 scheme）
	Addr() string

	// Close 关闭监听器
	Close() error
}
