// Package interfaces 定义 go-p2pstack 公共接口
//
// 本文件定义 Security 接口，抽象安全传输协议。
package interfaces

import (
	"context"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// SecureTransport 定义安全传输接口
//
// SecureTransport 消费一个原始 Channel，产出加密/认证后的 SecureChannel。
// 协议 ID 由升级器先通过 multistream 协商。
type SecureTransport interface {
	// ID 返回安全协议标识
	ID() types.ProtocolID

	// SecureInbound 保护入站连接，peer 可为空
	SecureInbound(ctx context.Context, ch Channel, peer types.PeerID) (SecureChannel, error)

	// SecureOutbound 保护出站连接，peer 非空时校验远端身份
	SecureOutbound(ctx context.Context, ch Channel, peer types.PeerID) (SecureChannel, error)
}

// SecureChannel 定义安全连接接口
type SecureChannel interface {
	Channel

	// LocalPeer 返回本地节点 ID
	LocalPeer() types.PeerID

	// RemotePeer 返回远端节点 ID
	RemotePeer() types.PeerID

	// RemotePublicKey 返回远端公钥
	RemotePublicKey() []byte

	// Protocol 返回使用的安全协议
	Protocol() types.ProtocolID
}
