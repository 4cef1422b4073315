// Package interfaces 定义 go-p2pstack 公共接口
//
// 本文件定义 Muxer 接口，抽象流多路复用协议。
package interfaces

import (
	"context"
	"time"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// StreamMuxer 定义流多路复用器接口
//
// StreamMuxer 允许在单个 Channel 上创建多个独立的、各自流控的逻辑流。
type StreamMuxer interface {
	// ID 返回多路复用协议标识
	ID() types.ProtocolID

	// NewConn 在 Channel 上创建多路复用连接
	//
	// 多路复用器取得 ch 的独占所有权：此后只有它的读循环和写循环访问 ch。
	NewConn(ch Channel, isServer bool) (MuxedConn, error)
}

// MuxedConn 定义多路复用连接接口
type MuxedConn interface {
	// OpenStream 打开新流
	OpenStream(ctx context.Context) (MuxedStream, error)

	// AcceptStream 接受新流，阻塞直到有新流到达、连接关闭或 ctx 取消
	AcceptStream(ctx context.Context) (MuxedStream, error)

	// Ping 发送保活帧并返回往返时间
	Ping(ctx context.Context) (time.Duration, error)

	// NumStreams 返回当前打开的流数量
	NumStreams() int

	// Close 关闭连接，所有流都会被重置
	Close() error

	// IsClosed 检查连接是否已关闭
	IsClosed() bool

	// Done 返回关闭信号
	Done() <-chan struct{}

	// Err 返回导致关闭的错误，正常关闭时为 types.ErrConnectionClosed
	Err() error
}

// MuxedStream 定义多路复用流接口
//
// 对上层而言，逻辑流就是一个普通的 Channel。
type MuxedStream interface {
	Channel

	// StreamID 返回流 ID
	StreamID() types.StreamID

	// State 返回流状态
	State() types.StreamState
}
