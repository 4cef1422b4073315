package p2pstack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pstack/config"
	"github.com/dep2p/go-p2pstack/internal/core/eventbus"
	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/metrics"
	"github.com/dep2p/go-p2pstack/internal/core/multistream"
	"github.com/dep2p/go-p2pstack/internal/core/muxer/yamux"
	"github.com/dep2p/go-p2pstack/internal/core/peerstore/protobook"
	"github.com/dep2p/go-p2pstack/internal/core/protocol"
	"github.com/dep2p/go-p2pstack/internal/core/protocol/system"
	"github.com/dep2p/go-p2pstack/internal/core/security"
	"github.com/dep2p/go-p2pstack/internal/core/security/noise"
	"github.com/dep2p/go-p2pstack/internal/core/security/plaintext"
	"github.com/dep2p/go-p2pstack/internal/core/security/tls"
	"github.com/dep2p/go-p2pstack/internal/core/session"
	"github.com/dep2p/go-p2pstack/internal/core/transport"
	"github.com/dep2p/go-p2pstack/internal/core/transport/memory"
	"github.com/dep2p/go-p2pstack/internal/core/transport/tcp"
	"github.com/dep2p/go-p2pstack/internal/core/upgrader"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("host")

// ════════════════════════════════════════════════════════════════════════════
//                              Host
// ════════════════════════════════════════════════════════════════════════════

// Host 节点主机
//
// 持有本地身份、传输、升级器与协议注册表，管理全部会话。
type Host struct {
	cfg      *config.Config
	id       *identity.Identity
	metrics  *metrics.Metrics
	registry *protocol.Registry
	upgrader *upgrader.Upgrader
	set      *transport.Set
	book     *protobook.ProtoBook
	bus      *eventbus.Bus
	emitters hostEmitters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	sessions  map[string]*session.Session
	listeners []interfaces.Listener
}

// New 按配置组装主机，不监听任何地址
func New(cfg *config.Config, opts ...Option) (*Host, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id := o.identity
	if id == nil {
		var err error
		if id, err = identity.Load(cfg.Identity); err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		var err error
		if m, err = metrics.New(o.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	secure, err := securityTransports(cfg.Security, id)
	if err != nil {
		return nil, err
	}

	muxCfg := yamux.ConfigFromUnified(cfg.Muxer)
	muxCfg.Metrics = m

	registry := protocol.NewRegistry()
	if err := system.Register(registry); err != nil {
		return nil, err
	}

	u, err := upgrader.New(id.PeerID(), upgrader.Config{
		SecurityTransports: secure,
		StreamMuxers:       []interfaces.StreamMuxer{yamux.NewTransport(muxCfg)},
		Negotiator: multistream.New(
			multistream.WithTimeout(cfg.Negotiation.Timeout.Duration()),
			multistream.WithMaxProposals(cfg.Negotiation.MaxProposals),
			multistream.WithMetrics(m),
		),
		Registry:     registry,
		Metrics:      m,
		CloseTimeout: muxCfg.CloseTimeout,
	})
	if err != nil {
		return nil, err
	}

	set, err := transports(cfg.Transport, o.network)
	if err != nil {
		return nil, err
	}

	book, err := protobook.New(cfg.Host.ProtocolCacheSize)
	if err != nil {
		return nil, err
	}

	bus := eventbus.NewBus()
	em, err := newHostEmitters(bus)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		cfg:      cfg,
		id:       id,
		metrics:  m,
		registry: registry,
		upgrader: u,
		set:      set,
		book:     book,
		bus:      bus,
		emitters: em,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session.Session),
	}

	logger.Info("主机已创建", "peer", id.PeerID().ShortString(), "transports", set.Schemes())
	return h, nil
}

// securityTransports 按首选协议排序，其余按 Noise、TLS、明文的顺序
func securityTransports(cfg config.SecurityConfig, id *identity.Identity) ([]interfaces.SecureTransport, error) {
	timeout := cfg.HandshakeTimeout.Duration()

	candidates := []struct {
		name    string
		enabled bool
		build   func() (interfaces.SecureTransport, error)
	}{
		{"noise", cfg.EnableNoise, func() (interfaces.SecureTransport, error) { return noise.New(id, timeout) }},
		{"tls", cfg.EnableTLS, func() (interfaces.SecureTransport, error) { return tls.New(id, timeout) }},
		{"plaintext", cfg.EnablePlaintext, func() (interfaces.SecureTransport, error) { return plaintext.New(id, timeout) }},
	}

	var out []interfaces.SecureTransport
	for _, c := range candidates {
		if !c.enabled {
			continue
		}
		t, err := c.build()
		if err != nil {
			return nil, fmt.Errorf("%s transport: %w", c.name, err)
		}
		if c.name == cfg.PreferredProtocol {
			out = append([]interfaces.SecureTransport{t}, out...)
		} else {
			out = append(out, t)
		}
	}
	return out, nil
}

func transports(cfg config.TransportConfig, network *memory.Network) (*transport.Set, error) {
	var ts []interfaces.Transport
	if cfg.EnableTCP {
		ts = append(ts, tcp.New(cfg.DialTimeout.Duration(), cfg.ReadBufferSize))
	}
	if cfg.EnableMemory {
		ts = append(ts, memory.New(network, cfg.ReadBufferSize))
	}
	if len(ts) == 0 {
		return nil, ErrNoTransport
	}
	return transport.NewSet(ts...)
}

// ════════════════════════════════════════════════════════════════════════════
//                              访问器
// ════════════════════════════════════════════════════════════════════════════

// ID 返回本地节点 ID
func (h *Host) ID() types.PeerID {
	return h.id.PeerID()
}

// Config 返回主机配置
func (h *Host) Config() *config.Config {
	return h.cfg
}

// Addrs 返回实际监听地址
func (h *Host) Addrs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.listeners))
	for _, l := range h.listeners {
		out = append(out, l.Addr())
	}
	return out
}

// Sessions 返回当前会话快照
func (h *Host) Sessions() []*session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// SessionsTo 返回到 peer 的会话，就绪的排在前面
func (h *Host) SessionsTo(peer types.PeerID) []*session.Session {
	var ready, other []*session.Session
	for _, s := range h.Sessions() {
		if s.RemotePeer() != peer {
			continue
		}
		if s.State() == types.SessionReady {
			ready = append(ready, s)
		} else {
			other = append(other, s)
		}
	}
	return append(ready, other...)
}

// EventBus 返回主机事件总线
//
// 发布 types.EvtSessionReady、types.EvtSessionClosed 与 types.EvtProtocolsUpdated。
func (h *Host) EventBus() *eventbus.Bus {
	return h.bus
}

// ════════════════════════════════════════════════════════════════════════════
//                              协议处理器
// ════════════════════════════════════════════════════════════════════════════

// SetHandler 注册应用协议处理器
func (h *Host) SetHandler(id types.ProtocolID, handler interfaces.ProtocolHandler) error {
	if err := h.registry.Register(id, handler); err != nil {
		return err
	}
	_ = h.emitters.protocols.Emit(types.EvtProtocolsUpdated{Added: []types.ProtocolID{id}})
	return nil
}

// RemoveHandler 注销应用协议处理器
func (h *Host) RemoveHandler(id types.ProtocolID) error {
	if err := h.registry.Unregister(id); err != nil {
		return err
	}
	_ = h.emitters.protocols.Emit(types.EvtProtocolsUpdated{Removed: []types.ProtocolID{id}})
	return nil
}

// Protocols 返回已注册的应用协议
func (h *Host) Protocols() []types.ProtocolID {
	return h.registry.Protocols()
}

// ════════════════════════════════════════════════════════════════════════════
//                              监听
// ════════════════════════════════════════════════════════════════════════════

// Start 监听配置中的全部地址
func (h *Host) Start() error {
	for _, addr := range h.cfg.Transport.ListenAddrs {
		if _, err := h.Listen(addr); err != nil {
			return err
		}
	}
	return nil
}

// Listen 监听 addr，返回实际地址
func (h *Host) Listen(addr string) (string, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", ErrHostClosed
	}
	h.mu.Unlock()

	l, err := h.set.Listen(addr)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = l.Close()
		return "", ErrHostClosed
	}
	h.listeners = append(h.listeners, l)
	h.wg.Add(1)
	h.mu.Unlock()

	go h.acceptLoop(l)
	logger.Info("开始监听", "addr", l.Addr())
	return l.Addr(), nil
}

// acceptLoop 接受入站连接，出错时退避重试
func (h *Host) acceptLoop(l interfaces.Listener) {
	defer h.wg.Done()
	b := backoff.Backoff{
		Min:    h.cfg.Host.DialBackoffMin.Duration(),
		Max:    h.cfg.Host.DialBackoffMax.Duration(),
		Jitter: true,
	}

	for {
		ch, err := l.Accept(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil || errors.Is(err, memory.ErrListenerClosed) {
				return
			}
			wait := b.Duration()
			logger.Debug("接受连接失败", "addr", l.Addr(), "err", err, "retry", wait)
			select {
			case <-time.After(wait):
				continue
			case <-h.ctx.Done():
				return
			}
		}
		b.Reset()

		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handleInbound(ch)
		}()
	}
}

func (h *Host) handleInbound(ch interfaces.Channel) {
	s := h.upgrader.NewSession(ch, types.DirInbound, "")
	if !h.track(s) {
		_ = s.Disconnect()
		return
	}
	if err := s.Upgrade(h.ctx); err != nil {
		logger.Debug("入站连接升级失败", "channel", ch.ID(), "err", err)
		return
	}
	h.serve(s)
}

// serve 在会话上运行接受循环
func (h *Host) serve(s *session.Session) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = s.Disconnect()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	_ = h.emitters.ready.Emit(types.EvtSessionReady{
		SessionID: s.ID(),
		Peer:      s.RemotePeer(),
		Direction: s.Direction(),
		Security:  s.SecurityProtocol(),
		Muxer:     s.MuxerProtocol(),
	})

	go func() {
		defer h.wg.Done()
		if err := s.AcceptLoop(h.ctx); err != nil && h.ctx.Err() == nil {
			logger.Debug("会话接受循环退出", "session", s.ID(), "err", err)
		}
	}()
}

// track 登记会话，断开时自动移除
func (h *Host) track(s *session.Session) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.sessions[s.ID()] = s
	h.mu.Unlock()

	s.OnClose(func() {
		h.mu.Lock()
		delete(h.sessions, s.ID())
		h.mu.Unlock()

		// 只为到达过就绪状态的会话发出断开事件
		select {
		case <-s.Ready():
			_ = h.emitters.closed.Emit(types.EvtSessionClosed{
				SessionID: s.ID(),
				Peer:      s.RemotePeer(),
				Direction: s.Direction(),
				Err:       s.Err(),
			})
		default:
		}
	})
	return true
}

// ════════════════════════════════════════════════════════════════════════════
//                              拨号
// ════════════════════════════════════════════════════════════════════════════

// Dial 拨号并升级为就绪会话
//
// peer 为空时接受任意远端身份。可重试的失败按退避策略重试，
// 最多 Host.DialAttempts 次。
func (h *Host) Dial(ctx context.Context, addr string, peer types.PeerID) (*session.Session, error) {
	b := &backoff.Backoff{
		Min:    h.cfg.Host.DialBackoffMin.Duration(),
		Max:    h.cfg.Host.DialBackoffMax.Duration(),
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		s, err := h.dialOnce(ctx, addr, peer)
		if err == nil {
			return s, nil
		}
		if attempt >= h.cfg.Host.DialAttempts || !retryable(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, addr, err)
		}

		wait := b.Duration()
		logger.Debug("拨号失败，稍后重试", "addr", addr, "attempt", attempt, "wait", wait, "err", err)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
		case <-h.ctx.Done():
			timer.Stop()
			return nil, ErrHostClosed
		}
	}
}

func (h *Host) dialOnce(ctx context.Context, addr string, peer types.PeerID) (*session.Session, error) {
	raw, err := h.set.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	s := h.upgrader.NewSession(raw, types.DirOutbound, peer)
	if !h.track(s) {
		_ = s.Disconnect()
		return nil, ErrHostClosed
	}
	if err := s.Upgrade(ctx); err != nil {
		return nil, err
	}
	h.serve(s)
	return s, nil
}

// retryable 身份不符、协议不支持、地址错误与主动取消不重试
func retryable(err error) bool {
	switch {
	case errors.Is(err, security.ErrPeerIDMismatch),
		errors.Is(err, types.ErrNotSupported),
		errors.Is(err, transport.ErrInvalidAddr),
		errors.Is(err, transport.ErrNoTransport),
		errors.Is(err, ErrHostClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// ════════════════════════════════════════════════════════════════════════════
//                              流
// ════════════════════════════════════════════════════════════════════════════

// NewStream 在到 peer 的会话上打开流
//
// 候选协议按协议簿重排：上次选中的优先，已知被拒绝的最后。
// 会话仍在升级时排队等待。
func (h *Host) NewStream(ctx context.Context, peer types.PeerID, protocols ...types.ProtocolID) (interfaces.Channel, types.ProtocolID, error) {
	sessions := h.SessionsTo(peer)
	if len(sessions) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrPeerNotConnected, peer.ShortString())
	}

	candidates := h.book.Order(peer, protocols)
	ch, proto, err := sessions[0].OpenStream(ctx, candidates...)
	switch {
	case err == nil:
		h.book.SetSelected(peer, proto)
	case errors.Is(err, types.ErrNotSupported):
		h.book.MarkUnsupported(peer, protocols...)
	}
	return ch, proto, err
}

// ════════════════════════════════════════════════════════════════════════════
//                              关闭
// ════════════════════════════════════════════════════════════════════════════

// Close 关闭监听器并断开全部会话
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	listeners := h.listeners
	h.listeners = nil
	sessions := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	h.cancel()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, s := range sessions {
		err = multierr.Append(err, s.Disconnect())
	}
	h.wg.Wait()
	err = multierr.Append(err, h.emitters.Close())
	err = multierr.Append(err, h.bus.Close())

	logger.Info("主机已关闭", "peer", h.ID().ShortString(), "sessions", len(sessions))
	return err
}

// ════════════════════════════════════════════════════════════════════════════
//                              事件
// ════════════════════════════════════════════════════════════════════════════

type hostEmitters struct {
	ready     *eventbus.Emitter
	closed    *eventbus.Emitter
	protocols *eventbus.Emitter
}

func newHostEmitters(bus *eventbus.Bus) (hostEmitters, error) {
	var em hostEmitters
	var err error
	if em.ready, err = bus.Emitter(new(types.EvtSessionReady)); err != nil {
		return em, err
	}
	if em.closed, err = bus.Emitter(new(types.EvtSessionClosed)); err != nil {
		return em, err
	}
	if em.protocols, err = bus.Emitter(new(types.EvtProtocolsUpdated), eventbus.Stateful()); err != nil {
		return em, err
	}
	return em, nil
}

func (e hostEmitters) Close() error {
	return multierr.Combine(e.ready.Close(), e.closed.Close(), e.protocols.Close())
}
