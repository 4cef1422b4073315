// Package security 定义安全层共用的类型与错误
//
// 具体协议实现在子包中：
//   - plaintext: 明文交换公钥，仅用于测试与受信网络
//   - noise: Noise XX 握手，ChaChaPoly 加密
//   - tls: TLS 1.3，自签名证书携带身份公钥
package security

import (
	"errors"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrHandshakeFailed 握手失败
	ErrHandshakeFailed = errors.New("security: handshake failed")

	// ErrPeerIDMismatch 远端身份与期望不符
	ErrPeerIDMismatch = errors.New("security: peer id mismatch")

	// ErrNilIdentity 未提供本地身份
	ErrNilIdentity = errors.New("security: identity is nil")
)

// ============================================================================
//                              Conn
// ============================================================================

// Conn 握手完成后的安全 Channel
type Conn struct {
	interfaces.Channel

	protocol   types.ProtocolID
	localPeer  types.PeerID
	remotePeer types.PeerID
	remotePub  []byte
}

var _ interfaces.SecureChannel = (*Conn)(nil)

// NewConn 包装已认证的 Channel
func NewConn(ch interfaces.Channel, protocol types.ProtocolID, local, remote types.PeerID, remotePub []byte) *Conn {
	return &Conn{
		Channel:    ch,
		protocol:   protocol,
		localPeer:  local,
		remotePeer: remote,
		remotePub:  append([]byte(nil), remotePub...),
	}
}

// LocalPeer 返回本地节点 ID
func (c *Conn) LocalPeer() types.PeerID {
	return c.localPeer
}

// RemotePeer 返回远端节点 ID
func (c *Conn) RemotePeer() types.PeerID {
	return c.remotePeer
}

// RemotePublicKey 返回远端公钥
func (c *Conn) RemotePublicKey() []byte {
	return c.remotePub
}

// Protocol 返回安全协议
func (c *Conn) Protocol() types.ProtocolID {
	return c.protocol
}
