// Package interfaces 定义 go-p2pstack 公共接口
//
// 本文件定义应用协议处理器与会话上下文。
package interfaces

import (
	"context"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ProtocolHandler 应用协议处理器
//
// 在 multistream 选中该协议后被调用一次，ch 的后续流量归处理器所有。
// 返回后会话关闭 ch。
type ProtocolHandler interface {
	Handle(ctx context.Context, ch Channel, sess SessionContext) error
}

// ProtocolHandlerFunc 函数适配器
type ProtocolHandlerFunc func(ctx context.Context, ch Channel, sess SessionContext) error

// Handle 实现 ProtocolHandler
func (f ProtocolHandlerFunc) Handle(ctx context.Context, ch Channel, sess SessionContext) error {
	return f(ctx, ch, sess)
}

// SessionContext 处理器可见的会话视图
type SessionContext interface {
	// ID 返回会话 ID
	ID() string

	// LocalPeer 返回本地节点 ID
	LocalPeer() types.PeerID

	// RemotePeer 返回远端节点 ID
	RemotePeer() types.PeerID

	// Direction 返回物理连接方向
	Direction() types.Direction

	// OpenStream 打开新逻辑流并按顺序协商候选协议
	OpenStream(ctx context.Context, protocols ...types.ProtocolID) (Channel, types.ProtocolID, error)

	// Disconnect 断开会话
	Disconnect() error
}

// ProtocolRegistry 协议注册表
type ProtocolRegistry interface {
	// Register 注册协议处理器
	Register(id types.ProtocolID, handler ProtocolHandler) error

	// Unregister 注销协议处理器
	Unregister(id types.ProtocolID) error

	// Handler 获取协议处理器
	Handler(id types.ProtocolID) (ProtocolHandler, bool)

	// Protocols 返回所有已注册协议
	Protocols() []types.ProtocolID
}
