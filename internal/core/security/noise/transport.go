// Package noise 实现 Noise 协议安全传输
//
// 握手使用 Noise_XX_25519_ChaChaPoly_SHA256，静态密钥即节点身份。
// 握手与传输消息都以 2 字节大端长度为前缀。
package noise

import (
	"context"
	"fmt"
	"time"

	"github.com/flynn/noise"

	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/security/noise")

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

const (
	// maxMessageSize Noise 单条消息上限
	maxMessageSize = 65535

	// maxPlaintextSize 单条传输消息可承载的明文，扣除 16 字节认证标签
	maxPlaintextSize = maxMessageSize - 16
)

// Transport Noise 安全传输
type Transport struct {
	id      *identity.Identity
	timeout time.Duration
}

var _ interfaces.SecureTransport = (*Transport)(nil)

// New 创建 Noise 传输，timeout 为握手超时，0 表示不限
func New(id *identity.Identity, timeout time.Duration) (*Transport, error) {
	if id == nil {
		return nil, security.ErrNilIdentity
	}
	return &Transport{id: id, timeout: timeout}, nil
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID {
	return protocolids.Noise
}

// SecureInbound 保护入站连接
func (t *Transport) SecureInbound(ctx context.Context, ch interfaces.Channel, peer types.PeerID) (interfaces.SecureChannel, error) {
	return t.secure(ctx, ch, false, peer)
}

// SecureOutbound 保护出站连接
func (t *Transport) SecureOutbound(ctx context.Context, ch interfaces.Channel, peer types.PeerID) (interfaces.SecureChannel, error) {
	return t.secure(ctx, ch, true, peer)
}

func (t *Transport) secure(ctx context.Context, ch interfaces.Channel, initiator bool, peer types.PeerID) (interfaces.SecureChannel, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	res, err := handshake(ctx, ch, t.id, initiator, peer)
	if err != nil {
		logger.Debug("Noise 握手失败", "channel", ch.ID(), "initiator", initiator, "err", err)
		return nil, fmt.Errorf("%w: %w", security.ErrHandshakeFailed, err)
	}

	logger.Debug("Noise 握手成功", "channel", ch.ID(), "remote", res.remotePeer.ShortString())
	sc := newSecureChannel(ch, res.send, res.recv)
	return security.NewConn(sc, protocolids.Noise, t.id.PeerID(), res.remotePeer, res.remotePub), nil
}
