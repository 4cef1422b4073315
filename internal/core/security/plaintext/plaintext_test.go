package plaintext

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
)

func newTransport(t *testing.T) (*Transport, *identity.Identity) {
	t.Helper()
	id, err := identity.Generate(nil)
	require.NoError(t, err)
	tr, err := New(id, time.Second)
	require.NoError(t, err)
	return tr, id
}

// TestPlaintext_Handshake 交换公钥并派生 PeerID，之后字节原样透传
func TestPlaintext_Handshake(t *testing.T) {
	client, clientID := newTransport(t)
	server, serverID := newTransport(t)
	raw := channel.New()

	var out, in interfaces.SecureChannel
	var g errgroup.Group
	g.Go(func() error {
		var err error
		out, err = client.SecureOutbound(context.Background(), raw, serverID.PeerID())
		return err
	})
	g.Go(func() error {
		var err error
		in, err = server.SecureInbound(context.Background(), raw.Reverse(), "")
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, protocolids.Plaintext, out.Protocol())
	assert.Equal(t, serverID.PeerID(), out.RemotePeer())
	assert.Equal(t, clientID.PeerID(), in.RemotePeer())
	assert.Equal(t, clientID.PublicKey(), in.RemotePublicKey())

	_, err := out.Write([]byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(in, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
}

// TestPlaintext_Mismatch 期望 PeerID 不符
func TestPlaintext_Mismatch(t *testing.T) {
	client, _ := newTransport(t)
	server, _ := newTransport(t)
	other, err := identity.Generate(nil)
	require.NoError(t, err)

	raw := channel.New()
	go func() {
		_, _ = server.SecureInbound(context.Background(), raw.Reverse(), "")
	}()

	_, err = client.SecureOutbound(context.Background(), raw, other.PeerID())
	assert.ErrorIs(t, err, security.ErrPeerIDMismatch)
}

// TestPlaintext_BadKey 对端发送非法长度
func TestPlaintext_BadKey(t *testing.T) {
	client, _ := newTransport(t)
	raw := channel.New()

	go func() {
		_, _ = raw.Reverse().Write(varint.ToUvarint(maxKeyLen + 1))
	}()
	_, err := client.SecureOutbound(context.Background(), raw, "")
	assert.ErrorIs(t, err, security.ErrHandshakeFailed)

	raw = channel.New()
	go func() {
		_, _ = raw.Reverse().Write(append(varint.ToUvarint(3), 1, 2, 3))
	}()
	_, err = client.SecureOutbound(context.Background(), raw, "")
	assert.ErrorIs(t, err, security.ErrHandshakeFailed)
	assert.ErrorIs(t, err, identity.ErrInvalidKeySize)
}
