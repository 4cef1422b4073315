// Package tls 实现基于 TLS 1.3 的安全传输
//
// 证书为一次性 Ed25519 自签名证书，扩展中携带节点身份公钥。
// 握手完成后双方用身份密钥的静态 DH 结果对导出密钥材料求 MAC 并互相校验，
// 以此证明持有身份私钥。
package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/security/tls")

// certRenewBefore 证书剩余有效期不足时重新生成
const certRenewBefore = time.Hour

// Transport TLS 安全传输
type Transport struct {
	id      *identity.Identity
	timeout time.Duration

	mu   sync.Mutex
	cert tls.Certificate
}

var _ interfaces.SecureTransport = (*Transport)(nil)

// New 创建 TLS 传输，timeout 为握手超时，0 表示不限
func New(id *identity.Identity, timeout time.Duration) (*Transport, error) {
	if id == nil {
		return nil, security.ErrNilIdentity
	}
	cert, err := newCertificate(id)
	if err != nil {
		return nil, err
	}
	return &Transport{id: id, timeout: timeout, cert: cert}, nil
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID {
	return protocolids.TLS
}

// SecureInbound 保护入站连接，服务端角色
func (t *Transport) SecureInbound(ctx context.Context, ch interfaces.Channel, peer types.PeerID) (interfaces.SecureChannel, error) {
	return t.secure(ctx, ch, false, peer)
}

// SecureOutbound 保护出站连接，客户端角色
func (t *Transport) SecureOutbound(ctx context.Context, ch interfaces.Channel, peer types.PeerID) (interfaces.SecureChannel, error) {
	return t.secure(ctx, ch, true, peer)
}

func (t *Transport) secure(ctx context.Context, ch interfaces.Channel, client bool, expected types.PeerID) (interfaces.SecureChannel, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cert, err := t.certificate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", security.ErrHandshakeFailed, err)
	}

	var remotePub []byte
	var remote types.PeerID
	cfg := &tls.Config{
		Certificates:           []tls.Certificate{cert},
		MinVersion:             tls.VersionTLS13,
		ClientAuth:             tls.RequireAnyClientCert,
		InsecureSkipVerify:     true, // 自签名证书，由 VerifyPeerCertificate 校验
		SessionTicketsDisabled: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			pub, peer, err := identityKey(rawCerts)
			if err != nil {
				return err
			}
			if !expected.IsEmpty() && peer != expected {
				return fmt.Errorf("%w: expected %s, got %s", security.ErrPeerIDMismatch, expected.ShortString(), peer.ShortString())
			}
			remotePub, remote = pub, peer
			return nil
		},
	}

	nc := newNetConn(ch)
	var conn *tls.Conn
	if client {
		conn = tls.Client(nc, cfg)
	} else {
		conn = tls.Server(nc, cfg)
	}

	if err := conn.HandshakeContext(ctx); err != nil {
		_ = ch.Reset()
		logger.Debug("TLS 握手失败", "channel", ch.ID(), "client", client, "err", err)
		return nil, fmt.Errorf("%w: %w", security.ErrHandshakeFailed, err)
	}

	if err := confirmIdentity(ctx, conn, t.id, remotePub, client); err != nil {
		_ = ch.Reset()
		logger.Debug("TLS 身份确认失败", "channel", ch.ID(), "remote", remote.ShortString(), "err", err)
		return nil, fmt.Errorf("%w: %w", security.ErrHandshakeFailed, err)
	}

	logger.Debug("TLS 握手成功", "channel", ch.ID(), "remote", remote.ShortString())
	return security.NewConn(channel.FromConn(conn), protocolids.TLS, t.id.PeerID(), remote, remotePub), nil
}

// certificate 返回当前证书，临近过期时重新生成
func (t *Transport) certificate() (tls.Certificate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Until(t.cert.Leaf.NotAfter) > certRenewBefore {
		return t.cert, nil
	}
	cert, err := newCertificate(t.id)
	if err != nil {
		return tls.Certificate{}, err
	}
	t.cert = cert
	logger.Debug("TLS 证书已更新", "notAfter", cert.Leaf.NotAfter)
	return cert, nil
}
