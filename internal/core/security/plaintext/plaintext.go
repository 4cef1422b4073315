// Package plaintext 实现明文安全层
//
// 两端各自写出 varint 长度前缀的公钥，再读取对端公钥并派生 PeerID。
// 不加密也不证明私钥持有，只用于测试与受信网络。
package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/security/plaintext")

// maxKeyLen 对端公钥长度上限
const maxKeyLen = 4096

// Transport 明文安全传输
type Transport struct {
	id      *identity.Identity
	timeout time.Duration
}

var _ interfaces.SecureTransport = (*Transport)(nil)

// New 创建明文安全传输，timeout 为 0 时不限时
func New(id *identity.Identity, timeout time.Duration) (*Transport, error) {
	if id == nil {
		return nil, security.ErrNilIdentity
	}
	return &Transport{id: id, timeout: timeout}, nil
}

// ID 返回协议标识
func (t *Transport) ID() types.ProtocolID {
	return protocolids.Plaintext
}

// SecureInbound 保护入站连接
func (t *Transport) SecureInbound(ctx context.Context, ch interfaces.Channel, peer types.PeerID) (interfaces.SecureChannel, error) {
	return t.handshake(ctx, ch, peer)
}

// SecureOutbound 保护出站连接
func (t *Transport) SecureOutbound(ctx context.Context, ch interfaces.Channel, peer types.PeerID) (interfaces.SecureChannel, error) {
	return t.handshake(ctx, ch, peer)
}

func (t *Transport) handshake(ctx context.Context, ch interfaces.Channel, expected types.PeerID) (interfaces.SecureChannel, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	pub := t.id.PublicKey()
	msg := append(varint.ToUvarint(uint64(len(pub))), pub...)
	if _, err := ch.WriteContext(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: write key: %w", security.ErrHandshakeFailed, err)
	}

	remotePub, err := readKey(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: read key: %w", security.ErrHandshakeFailed, err)
	}

	remote, err := identity.PeerIDFromPublicKey(remotePub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", security.ErrHandshakeFailed, err)
	}
	if !expected.IsEmpty() && remote != expected {
		return nil, fmt.Errorf("%w: expected %s, got %s", security.ErrPeerIDMismatch, expected.ShortString(), remote.ShortString())
	}

	logger.Debug("明文握手完成", "local", t.id.PeerID().ShortString(), "remote", remote.ShortString())
	return security.NewConn(ch, protocolids.Plaintext, t.id.PeerID(), remote, remotePub), nil
}

// readKey 读取 varint 长度前缀的公钥
func readKey(ctx context.Context, ch interfaces.Channel) ([]byte, error) {
	var prefix bytes.Buffer
	b := make([]byte, 1)
	for {
		if _, err := ch.ReadContext(ctx, b, types.ReadFull); err != nil {
			return nil, err
		}
		prefix.WriteByte(b[0])
		if b[0] < 0x80 {
			break
		}
		if prefix.Len() >= varint.MaxLenUvarint63 {
			return nil, varint.ErrOverflow
		}
	}

	n, _, err := varint.FromUvarint(prefix.Bytes())
	if err != nil {
		return nil, err
	}
	if n == 0 || n > maxKeyLen {
		return nil, fmt.Errorf("key length %d out of range", n)
	}

	key := make([]byte, n)
	if _, err := ch.ReadContext(ctx, key, types.ReadFull); err != nil {
		return nil, err
	}
	return key, nil
}
