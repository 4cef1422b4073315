// Package interfaces 定义 go-p2pstack 公共接口
//
// 本文件定义 Channel 接口，所有协议层之间的双工字节流原语。
package interfaces

import (
	"context"
	"io"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// Channel 双工异步字节流
//
// 每个 Channel 都有一个配对的反向端点（Reverse）：
// 在一端写入的字节会在另一端被读出，反之亦然。
// 保证字节顺序，不保证分块边界（流语义，而非消息语义）。
//
// 并发约定：原语本身不强制单读单写，调用方自行串行化同一方向的访问；
// 但一个读者和一个写者在相对两端同时操作是安全的。
type Channel interface {
	// Read 等价于 ReadContext(context.Background(), p, types.ReadAny)
	io.Reader

	// Write 等价于 WriteContext(context.Background(), p)
	io.Writer

	// Close 优雅关闭
	//
	// 双向都不再接受写入，已缓冲但未读的字节仍可读出，随后读到 io.EOF。
	// 幂等，并传播到配对端点。
	io.Closer

	// ID 返回 Channel 标识
	ID() string

	// ReadContext 按指定模式读取
	//
	// ReadAny 至少读到一个字节即返回；ReadFull 读满 len(p) 或遇到流结束才返回。
	ReadContext(ctx context.Context, p []byte, mode types.ReadMode) (int, error)

	// WriteContext 写入字节，关闭后返回 types.ErrClosed
	WriteContext(ctx context.Context, p []byte) (int, error)

	// CloseWrite 半关闭本端写方向，对端读完缓冲后读到 io.EOF
	CloseWrite() error

	// Reset 中止关闭，丢弃缓冲数据，挂起的读写立即失败
	Reset() error

	// OnClose 注册关闭回调
	//
	// 每个回调恰好调用一次，按注册顺序；关闭后注册的回调立即在调用方 goroutine 中执行。
	OnClose(fn func())

	// Done 返回关闭信号
	Done() <-chan struct{}

	// IsClosed 是否已关闭
	IsClosed() bool

	// Reverse 返回配对端点
	Reverse() Channel
}
