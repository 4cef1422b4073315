package p2pstack

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/config"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system/echo"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/internal/core/transport/memory"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Transport.EnableTCP = false
	cfg.Muxer.EnableKeepAlive = false
	cfg.Host.DialBackoffMin = config.Duration(time.Millisecond)
	cfg.Host.DialBackoffMax = config.Duration(10 * time.Millisecond)
	return cfg
}

func newHost(t *testing.T, network *memory.Network, cfg *config.Config, opts ...Option) *Host {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	h, err := New(cfg, append(opts, WithMemoryNetwork(network))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// TestHost_DialAndStream 拨号、开流、协议簿记录选中的协议
func TestHost_DialAndStream(t *testing.T) {
	network := memory.NewNetwork()
	a := newHost(t, network, nil)
	b := newHost(t, network, nil)

	addr, err := a.Listen("memory://a")
	require.NoError(t, err)
	assert.Equal(t, []string{"memory://a"}, a.Addrs())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := b.Dial(ctx, addr, a.ID())
	require.NoError(t, err)
	assert.Equal(t, types.SessionReady, s.State())
	assert.Equal(t, protocolids.Noise, s.SecurityProtocol())

	require.Eventually(t, func() bool {
		sessions := a.SessionsTo(b.ID())
		return len(sessions) == 1 && sessions[0].State() == types.SessionReady
	}, 2*time.Second, 10*time.Millisecond)

	ch, proto, err := b.NewStream(ctx, a.ID(), "/missing/1.0.0", protocolids.Echo)
	require.NoError(t, err)
	assert.Equal(t, protocolids.Echo, proto)
	out, err := echo.Echo(ctx, ch, []byte("hello host"))
	require.NoError(t, err)
	assert.Equal(t, "hello host", string(out))
	require.NoError(t, ch.Close())

	assert.Equal(t, []types.ProtocolID{protocolids.Echo}, b.book.GetProtocols(a.ID()))
	assert.Equal(t,
		[]types.ProtocolID{protocolids.Echo, "/missing/1.0.0"},
		b.book.Order(a.ID(), []types.ProtocolID{"/missing/1.0.0", protocolids.Echo}))

	t.Log("✅ 主机拨号与开流测试通过")
}

// TestHost_SetHandler 自定义协议处理器
func TestHost_SetHandler(t *testing.T) {
	network := memory.NewNetwork()
	a := newHost(t, network, nil)
	b := newHost(t, network, nil)

	const greet types.ProtocolID = "/greet/1.0.0"
	require.NoError(t, a.SetHandler(greet, interfaces.ProtocolHandlerFunc(
		func(ctx context.Context, ch interfaces.Channel, sess interfaces.SessionContext) error {
			_, err := ch.WriteContext(ctx, []byte("hi "+sess.RemotePeer().ShortString()))
			return err
		})))
	assert.Contains(t, a.Protocols(), greet)

	addr, err := a.Listen("memory://greeter")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = b.Dial(ctx, addr, "")
	require.NoError(t, err)

	ch, _, err := b.NewStream(ctx, a.ID(), greet)
	require.NoError(t, err)
	got, err := io.ReadAll(ch)
	require.NoError(t, err)
	assert.Equal(t, "hi "+b.ID().ShortString(), string(got))

	require.NoError(t, a.RemoveHandler(greet))
	_, _, err = b.NewStream(ctx, a.ID(), greet)
	assert.ErrorIs(t, err, types.ErrNotSupported)
}

// TestHost_DialRetry 连接被拒绝时按次数重试
func TestHost_DialRetry(t *testing.T) {
	cfg := testConfig()
	cfg.Host.DialAttempts = 3
	h := newHost(t, memory.NewNetwork(), cfg)

	start := time.Now()
	_, err := h.Dial(context.Background(), "memory://nobody", "")
	assert.ErrorIs(t, err, ErrDialFailed)
	assert.ErrorIs(t, err, memory.ErrConnRefused)
	assert.Less(t, time.Since(start), time.Second)

	_, err = h.Dial(context.Background(), "quic://x", "")
	assert.ErrorIs(t, err, ErrDialFailed)
	assert.False(t, retryable(err))
}

// TestHost_DialPeerMismatch 身份不符不重试
func TestHost_DialPeerMismatch(t *testing.T) {
	network := memory.NewNetwork()
	a := newHost(t, network, nil)
	b := newHost(t, network, nil)
	c := newHost(t, network, nil)

	addr, err := a.Listen("memory://a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = b.Dial(ctx, addr, c.ID())
	assert.ErrorIs(t, err, ErrDialFailed)
	assert.ErrorIs(t, err, security.ErrPeerIDMismatch)
	assert.Empty(t, b.Sessions())
}

// TestHost_NotConnected 没有会话时开流
func TestHost_NotConnected(t *testing.T) {
	h := newHost(t, memory.NewNetwork(), nil)
	_, _, err := h.NewStream(context.Background(), "unknown", protocolids.Echo)
	assert.ErrorIs(t, err, ErrPeerNotConnected)
}

// TestHost_Close 关闭主机断开会话，对端随之断开
func TestHost_Close(t *testing.T) {
	network := memory.NewNetwork()
	a := newHost(t, network, nil)
	b := newHost(t, network, nil)

	addr, err := a.Listen("memory://a")
	require.NoError(t, err)
	s, err := b.Dial(context.Background(), addr, a.ID())
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	assert.Empty(t, a.Sessions())
	_, err = a.Listen("memory://again")
	assert.ErrorIs(t, err, ErrHostClosed)

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("remote session still alive")
	}
	require.Eventually(t, func() bool { return len(b.Sessions()) == 0 }, time.Second, 10*time.Millisecond)
}

// TestHost_TCPPlaintext TCP 传输与明文安全层
func TestHost_TCPPlaintext(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.EnableTCP = true
	cfg.Security = cfg.Security.WithPlaintext(true).WithPreferredProtocol("plaintext")
	cfg.Transport = cfg.Transport.WithListenAddrs("tcp://127.0.0.1:0")

	a := newHost(t, memory.NewNetwork(), cfg)
	b := newHost(t, memory.NewNetwork(), cfg)
	require.NoError(t, a.Start())
	addrs := a.Addrs()
	require.Len(t, addrs, 1)
	assert.True(t, strings.HasPrefix(addrs[0], "tcp://127.0.0.1:"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := b.Dial(ctx, addrs[0], a.ID())
	require.NoError(t, err)
	assert.Equal(t, protocolids.Plaintext, s.SecurityProtocol())

	ch, _, err := b.NewStream(ctx, a.ID(), protocolids.Echo)
	require.NoError(t, err)
	out, err := echo.Echo(ctx, ch, []byte("over tcp"))
	require.NoError(t, err)
	assert.Equal(t, "over tcp", string(out))
}

// TestHost_SecurityNegotiation 按首选顺序协商安全协议
func TestHost_SecurityNegotiation(t *testing.T) {
	tests := []struct {
		name     string
		dialer   func(config.SecurityConfig) config.SecurityConfig
		listener func(config.SecurityConfig) config.SecurityConfig
		want     types.ProtocolID
	}{
		{
			name:     "双方首选 TLS",
			dialer:   func(c config.SecurityConfig) config.SecurityConfig { return c.WithPreferredProtocol("tls") },
			listener: func(c config.SecurityConfig) config.SecurityConfig { return c },
			want:     protocolids.TLS,
		},
		{
			name:   "监听方只支持 TLS",
			dialer: func(c config.SecurityConfig) config.SecurityConfig { return c },
			listener: func(c config.SecurityConfig) config.SecurityConfig {
				return c.WithNoise(false).WithPreferredProtocol("tls")
			},
			want: protocolids.TLS,
		},
		{
			name: "拨号方 TLS 优先于明文",
			dialer: func(c config.SecurityConfig) config.SecurityConfig {
				return c.WithNoise(false).WithPlaintext(true).WithPreferredProtocol("tls")
			},
			listener: func(c config.SecurityConfig) config.SecurityConfig {
				return c.WithPlaintext(true).WithPreferredProtocol("plaintext")
			},
			want: protocolids.TLS,
		},
		{
			name: "没有共同协议",
			dialer: func(c config.SecurityConfig) config.SecurityConfig {
				return c.WithNoise(false).WithPreferredProtocol("tls")
			},
			listener: func(c config.SecurityConfig) config.SecurityConfig {
				return c.WithTLS(false)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := memory.NewNetwork()
			acfg, bcfg := testConfig(), testConfig()
			acfg.Security = tt.listener(acfg.Security)
			bcfg.Security = tt.dialer(bcfg.Security)
			a := newHost(t, network, acfg)
			b := newHost(t, network, bcfg)

			addr, err := a.Listen("memory://a")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s, err := b.Dial(ctx, addr, a.ID())
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrDialFailed)
				assert.Empty(t, b.Sessions())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.SecurityProtocol())

			ch, _, err := b.NewStream(ctx, a.ID(), protocolids.Echo)
			require.NoError(t, err)
			out, err := echo.Echo(ctx, ch, []byte("negotiated"))
			require.NoError(t, err)
			assert.Equal(t, "negotiated", string(out))
		})
	}
}

// TestHost_Metrics 就绪会话计入指标
func TestHost_Metrics(t *testing.T) {
	network := memory.NewNetwork()
	reg := prometheus.NewRegistry()
	a := newHost(t, network, nil)
	b := newHost(t, network, nil, WithMetrics(reg))

	addr, err := a.Listen("memory://a")
	require.NoError(t, err)
	s, err := b.Dial(context.Background(), addr, a.ID())
	require.NoError(t, err)

	expected := `
# HELP p2pstack_session_active Gauge of sessions in the ready state.
# TYPE p2pstack_session_active gauge
p2pstack_session_active 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "p2pstack_session_active"))

	require.NoError(t, s.Disconnect())
	expected = strings.Replace(expected, "active 1", "active 0", 1)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "p2pstack_session_active"))
}

// TestHost_Events 会话就绪与断开事件
func TestHost_Events(t *testing.T) {
	network := memory.NewNetwork()
	a := newHost(t, network, nil)
	b := newHost(t, network, nil)

	readySub, err := b.EventBus().Subscribe(new(types.EvtSessionReady))
	require.NoError(t, err)
	closedSub, err := b.EventBus().Subscribe(new(types.EvtSessionClosed))
	require.NoError(t, err)

	addr, err := a.Listen("memory://events")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := b.Dial(ctx, addr, a.ID())
	require.NoError(t, err)

	select {
	case evt := <-readySub.Out():
		ready := evt.(types.EvtSessionReady)
		assert.Equal(t, s.ID(), ready.SessionID)
		assert.Equal(t, a.ID(), ready.Peer)
		assert.Equal(t, types.DirOutbound, ready.Direction)
		assert.Equal(t, protocolids.Yamux, ready.Muxer)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到就绪事件")
	}

	require.NoError(t, s.Disconnect())
	select {
	case evt := <-closedSub.Out():
		closed := evt.(types.EvtSessionClosed)
		assert.Equal(t, s.ID(), closed.SessionID)
		assert.ErrorIs(t, closed.Err, types.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到断开事件")
	}

	// 协议变更为有状态事件
	require.NoError(t, b.SetHandler("/app/1.0.0", interfaces.ProtocolHandlerFunc(
		func(context.Context, interfaces.Channel, interfaces.SessionContext) error { return nil })))
	protoSub, err := b.EventBus().Subscribe(new(types.EvtProtocolsUpdated))
	require.NoError(t, err)
	select {
	case evt := <-protoSub.Out():
		assert.Equal(t, []types.ProtocolID{"/app/1.0.0"}, evt.(types.EvtProtocolsUpdated).Added)
	case <-time.After(time.Second):
		t.Fatal("未收到协议变更事件")
	}

	t.Log("✅ 主机事件测试通过")
}
