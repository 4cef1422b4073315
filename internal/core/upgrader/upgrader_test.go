package upgrader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/muxer/yamux"
	"github.com/dep2p/go-p2pstack/internal/core/protocol"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/echo"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/ping"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/internal/core/security/noise"
	"github.com/dep2p/go-p2pstack/internal/core/security/plaintext"
	"github.com/dep2p/go-p2pstack/internal/core/session"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// node 测试节点
type node struct {
	id       *identity.Identity
	upgrader *Upgrader
}

func newNode(t *testing.T, secure ...types.ProtocolID) *node {
	t.Helper()
	id, err := identity.Generate(nil)
	require.NoError(t, err)

	var transports []interfaces.SecureTransport
	for _, p := range secure {
		switch p {
		case protocolids.Noise:
			tr, err := noise.New(id, 5*time.Second)
			require.NoError(t, err)
			transports = append(transports, tr)
		case protocolids.Plaintext:
			tr, err := plaintext.New(id, 5*time.Second)
			require.NoError(t, err)
			transports = append(transports, tr)
		}
	}

	reg := protocol.NewRegistry()
	require.NoError(t, system.Register(reg))

	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = false
	u, err := New(id.PeerID(), Config{
		SecurityTransports: transports,
		StreamMuxers:       []interfaces.StreamMuxer{yamux.NewTransport(cfg)},
		Registry:           reg,
		CloseTimeout:       time.Second,
	})
	require.NoError(t, err)
	return &node{id: id, upgrader: u}
}

// upgradePair 并发升级两端
func upgradePair(t *testing.T, client, server *node, expect types.PeerID) (*session.Session, *session.Session, error, error) {
	t.Helper()
	raw := channel.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cs, ss *session.Session
	var cerr, serr error
	var g errgroup.Group
	g.Go(func() error {
		cs, cerr = client.upgrader.Upgrade(ctx, raw, types.DirOutbound, expect)
		return nil
	})
	g.Go(func() error {
		ss, serr = server.upgrader.Upgrade(ctx, raw.Reverse(), types.DirInbound, "")
		return nil
	})
	_ = g.Wait()

	t.Cleanup(func() {
		if cs != nil {
			_ = cs.Disconnect()
		}
		if ss != nil {
			_ = ss.Disconnect()
		}
	})
	return cs, ss, cerr, serr
}

func TestUpgrader_New(t *testing.T) {
	_, err := New("p", Config{})
	assert.ErrorIs(t, err, ErrNoSecurityTransport)

	id, err := identity.Generate(nil)
	require.NoError(t, err)
	tr, err := plaintext.New(id, time.Second)
	require.NoError(t, err)
	_, err = New("p", Config{SecurityTransports: []interfaces.SecureTransport{tr}})
	assert.ErrorIs(t, err, ErrNoStreamMuxer)
}

// TestUpgrader_Upgrade 完整升级并在会话上运行 echo 与 ping
func TestUpgrader_Upgrade(t *testing.T) {
	for _, proto := range []types.ProtocolID{protocolids.Noise, protocolids.Plaintext} {
		t.Run(string(proto), func(t *testing.T) {
			client := newNode(t, proto)
			server := newNode(t, proto)

			cs, ss, cerr, serr := upgradePair(t, client, server, server.id.PeerID())
			require.NoError(t, cerr)
			require.NoError(t, serr)

			assert.Equal(t, types.SessionReady, cs.State())
			assert.Equal(t, proto, cs.SecurityProtocol())
			assert.Equal(t, proto, ss.SecurityProtocol())
			assert.Equal(t, protocolids.Yamux, cs.MuxerProtocol())
			assert.Equal(t, server.id.PeerID(), cs.RemotePeer())
			assert.Equal(t, client.id.PeerID(), ss.RemotePeer())
			assert.Equal(t, client.id.PeerID(), cs.LocalPeer())

			go func() { _ = ss.AcceptLoop(context.Background()) }()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			ch, got, err := cs.OpenStream(ctx, protocolids.Echo)
			require.NoError(t, err)
			assert.Equal(t, protocolids.Echo, got)
			out, err := echo.Echo(ctx, ch, []byte("pipeline"))
			require.NoError(t, err)
			assert.Equal(t, "pipeline", string(out))

			pc, _, err := cs.OpenStream(ctx, protocolids.Ping)
			require.NoError(t, err)
			_, err = ping.Ping(ctx, pc)
			require.NoError(t, err)

			require.NoError(t, cs.Disconnect())
			select {
			case <-ss.Done():
			case <-time.After(3 * time.Second):
				t.Fatal("server session still alive")
			}
		})
	}
	t.Log("✅ 升级管线测试通过")
}

// TestUpgrader_PreferenceOrder 发起方按顺序提议，选中双方都支持的第一个
func TestUpgrader_PreferenceOrder(t *testing.T) {
	client := newNode(t, protocolids.Noise, protocolids.Plaintext)
	server := newNode(t, protocolids.Plaintext)

	cs, _, cerr, serr := upgradePair(t, client, server, "")
	require.NoError(t, cerr)
	require.NoError(t, serr)
	assert.Equal(t, protocolids.Plaintext, cs.SecurityProtocol())
}

// TestUpgrader_NoCommonSecurity 没有共同的安全协议
func TestUpgrader_NoCommonSecurity(t *testing.T) {
	client := newNode(t, protocolids.Plaintext)
	server := newNode(t, protocolids.Noise)

	cs, ss, cerr, serr := upgradePair(t, client, server, "")
	assert.Nil(t, cs)
	assert.Nil(t, ss)
	assert.ErrorIs(t, cerr, types.ErrNotSupported)
	assert.ErrorIs(t, cerr, types.ErrNegotiationFailed)
	assert.Error(t, serr)
}

// TestUpgrader_PeerMismatch 远端身份与期望不符
func TestUpgrader_PeerMismatch(t *testing.T) {
	client := newNode(t, protocolids.Noise)
	server := newNode(t, protocolids.Noise)
	other, err := identity.Generate(nil)
	require.NoError(t, err)

	_, _, cerr, serr := upgradePair(t, client, server, other.PeerID())
	assert.ErrorIs(t, cerr, security.ErrHandshakeFailed)
	assert.Error(t, serr)
}

// TestUpgrader_Layers 逐层调用
func TestUpgrader_Layers(t *testing.T) {
	client := newNode(t, protocolids.Plaintext)
	server := newNode(t, protocolids.Plaintext)
	raw := channel.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var csec, ssec interfaces.SecureChannel
	var g errgroup.Group
	g.Go(func() (err error) {
		csec, err = client.upgrader.UpgradeSecurity(ctx, raw, types.DirOutbound, server.id.PeerID())
		return err
	})
	g.Go(func() (err error) {
		ssec, err = server.upgrader.UpgradeSecurity(ctx, raw.Reverse(), types.DirInbound, "")
		return err
	})
	require.NoError(t, g.Wait())
	assert.Equal(t, client.id.PeerID(), ssec.RemotePeer())

	var cmc, smc interfaces.MuxedConn
	g.Go(func() (err error) {
		cmc, _, err = client.upgrader.UpgradeMuxer(ctx, csec, types.DirOutbound)
		return err
	})
	g.Go(func() (err error) {
		smc, _, err = server.upgrader.UpgradeMuxer(ctx, ssec, types.DirInbound)
		return err
	})
	require.NoError(t, g.Wait())
	defer cmc.Close()
	defer smc.Close()

	_, err := cmc.Ping(ctx)
	require.NoError(t, err)
}
