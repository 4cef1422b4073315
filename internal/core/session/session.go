// Package session 实现升级后的会话
//
// 会话经历 Connecting -> SecurityNegotiated -> MultiplexerNegotiated -> Ready，
// 任一阶段失败或调用 Disconnect 都进入 Disconnected（终态）。
//
// 就绪前调用 OpenStream 会排队等待，直到会话就绪、断开或调用方取消。
// 接受循环对每个入站流按注册表协商协议，并在独立协程中交给处理器。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pstack/internal/core/metrics"
	"github.com/dep2p/go-p2pstack/internal/core/multistream"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/session")

// 升级阶段，用作指标标签
const (
	StageSecurity = "security"
	StageMuxer    = "muxer"
)

// DefaultCloseTimeout 断开时等待底层 Channel 排空的时间
const DefaultCloseTimeout = 5 * time.Second

var (
	// ErrAlreadyUpgraded 会话已经升级过
	ErrAlreadyUpgraded = errors.New("session: already upgraded")

	// ErrNoProtocols 未给出候选协议
	ErrNoProtocols = errors.New("session: no candidate protocols")
)

// Layers 逐层升级
type Layers interface {
	// UpgradeSecurity 协商并建立安全层
	UpgradeSecurity(ctx context.Context, ch interfaces.Channel, dir types.Direction, peer types.PeerID) (interfaces.SecureChannel, error)

	// UpgradeMuxer 协商并建立多路复用层
	UpgradeMuxer(ctx context.Context, ch interfaces.Channel, dir types.Direction) (interfaces.MuxedConn, types.ProtocolID, error)
}

// Config 会话配置
type Config struct {
	// LocalPeer 本地节点 ID
	LocalPeer types.PeerID

	// Negotiator 流协议协商器，为空时使用默认值
	Negotiator *multistream.Negotiator

	// Registry 入站流的协议处理器，为空时拒绝所有入站协议
	Registry interfaces.ProtocolRegistry

	// Metrics 指标（可选）
	Metrics *metrics.Metrics

	// CloseTimeout 断开时等待排空的时间
	CloseTimeout time.Duration
}

// Session 一条物理连接上的会话
type Session struct {
	id     string
	dir    types.Direction
	local  types.PeerID
	raw    interfaces.Channel
	layers Layers
	cfg    Config

	mu        sync.Mutex
	state     types.SessionState
	upgrading bool
	remote    types.PeerID
	secure    interfaces.SecureChannel
	muxed     interfaces.MuxedConn
	security  types.ProtocolID
	muxer     types.ProtocolID
	err       error
	callbacks []func()
	notified  bool // 断开回调已全部执行

	pending   atomic.Int64
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ interfaces.SessionContext = (*Session)(nil)

// New 在原始 Channel 上创建会话，remote 为空表示升级后由安全层确定
func New(raw interfaces.Channel, dir types.Direction, remote types.PeerID, layers Layers, cfg Config) *Session {
	if cfg.Negotiator == nil {
		cfg.Negotiator = multistream.New()
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	return &Session{
		id:     uuid.NewString(),
		dir:    dir,
		local:  cfg.LocalPeer,
		raw:    raw,
		layers: layers,
		cfg:    cfg,
		state:  types.SessionConnecting,
		remote: remote,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 返回会话 ID
func (s *Session) ID() string {
	return s.id
}

// LocalPeer 返回本地节点 ID
func (s *Session) LocalPeer() types.PeerID {
	return s.local
}

// RemotePeer 返回远端节点 ID，安全层建立前为拨号时给出的期望值
func (s *Session) RemotePeer() types.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Direction 返回物理连接方向
func (s *Session) Direction() types.Direction {
	return s.dir
}

// State 返回会话状态
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SecurityProtocol 返回协商出的安全协议
func (s *Session) SecurityProtocol() types.ProtocolID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.security
}

// MuxerProtocol 返回协商出的多路复用协议
func (s *Session) MuxerProtocol() types.ProtocolID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muxer
}

// Streams 返回打开的逻辑流数量
func (s *Session) Streams() int {
	s.mu.Lock()
	mc := s.muxed
	s.mu.Unlock()
	if mc == nil {
		return 0
	}
	return mc.NumStreams()
}

// PendingOpens 返回等待会话就绪的 OpenStream 调用数
func (s *Session) PendingOpens() int {
	return int(s.pending.Load())
}

// Ready 返回就绪信号
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done 返回断开信号
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err 返回断开原因，主动断开为 types.ErrConnectionClosed
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnClose 注册断开回调
//
// 回调按注册顺序在资源释放后执行。拆除过程中注册的回调排在队尾，
// 拆除完成后注册的回调立即在调用方协程执行。
func (s *Session) OnClose(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.notified {
		s.mu.Unlock()
		fn()
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// notify 依次取出并执行回调，直到队列为空
func (s *Session) notify() {
	for {
		s.mu.Lock()
		if len(s.callbacks) == 0 {
			s.notified = true
			s.callbacks = nil
			s.mu.Unlock()
			return
		}
		fn := s.callbacks[0]
		s.callbacks = s.callbacks[1:]
		s.mu.Unlock()
		fn()
	}
}

// ============================================================================
//                              升级
// ============================================================================

// Upgrade 依次建立安全层与多路复用层，只能调用一次
//
// 失败时会话进入 Disconnected，已建立的层全部释放。
func (s *Session) Upgrade(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == types.SessionDisconnected:
		s.mu.Unlock()
		return s.closedErr()
	case s.upgrading:
		s.mu.Unlock()
		return ErrAlreadyUpgraded
	}
	s.upgrading = true
	expected := s.remote
	s.mu.Unlock()

	sec, err := s.layers.UpgradeSecurity(ctx, s.raw, s.dir, expected)
	if err != nil {
		return s.fail(StageSecurity, err)
	}
	if !s.advance(types.SessionSecurityNegotiated, func() {
		s.secure = sec
		s.remote = sec.RemotePeer()
		s.security = sec.Protocol()
	}) {
		_ = sec.Reset()
		return s.closedErr()
	}
	logger.Debug("安全层建立", "session", s.id, "protocol", sec.Protocol(), "peer", sec.RemotePeer().ShortString())

	mc, proto, err := s.layers.UpgradeMuxer(ctx, sec, s.dir)
	if err != nil {
		return s.fail(StageMuxer, err)
	}
	if !s.advance(types.SessionMultiplexerNegotiated, func() {
		s.muxed = mc
		s.muxer = proto
	}) {
		_ = mc.Close()
		return s.closedErr()
	}

	if !s.advance(types.SessionReady, nil) {
		return s.closedErr()
	}
	close(s.ready)
	s.cfg.Metrics.SessionReady()
	go s.watch(mc)

	logger.Info("会话就绪", "session", s.id, "dir", s.dir, "peer", s.RemotePeer().ShortString(),
		"security", s.SecurityProtocol(), "muxer", proto)
	return nil
}

// advance 在会话未断开时切换状态，apply 在锁内执行
func (s *Session) advance(next types.SessionState, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SessionDisconnected {
		return false
	}
	if apply != nil {
		apply()
	}
	s.state = next
	return true
}

// fail 记录失败阶段并拆除会话
func (s *Session) fail(stage string, err error) error {
	s.cfg.Metrics.UpgradeFailed(stage)
	logger.Warn("会话升级失败", "session", s.id, "stage", stage, "err", err)
	_ = s.teardown(err)
	return fmt.Errorf("upgrade %s: %w", stage, err)
}

// watch 多路复用连接关闭时拆除会话
func (s *Session) watch(mc interfaces.MuxedConn) {
	select {
	case <-mc.Done():
		_ = s.teardown(mc.Err())
	case <-s.done:
	}
}

// ============================================================================
//                              流
// ============================================================================

// OpenStream 打开逻辑流并按顺序协商候选协议
//
// 会话就绪前调用会排队等待。所有候选都被拒绝时错误匹配 types.ErrNotSupported。
func (s *Session) OpenStream(ctx context.Context, protocols ...types.ProtocolID) (interfaces.Channel, types.ProtocolID, error) {
	if len(protocols) == 0 {
		return nil, "", fmt.Errorf("%w: %w", types.ErrNegotiationFailed, ErrNoProtocols)
	}
	mc, err := s.waitReady(ctx, true)
	if err != nil {
		return nil, "", err
	}

	st, err := mc.OpenStream(ctx)
	if err != nil {
		return nil, "", err
	}
	proto, err := s.cfg.Negotiator.Select(ctx, st, protocols)
	if err != nil {
		return nil, "", err
	}
	return st, proto, nil
}

// waitReady 等待会话就绪，queued 为 true 时计入排队数
func (s *Session) waitReady(ctx context.Context, queued bool) (interfaces.MuxedConn, error) {
	select {
	case <-s.ready:
	default:
		if queued {
			s.pending.Add(1)
			defer s.pending.Add(-1)
		}
		select {
		case <-s.ready:
		case <-s.done:
			return nil, s.closedErr()
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SessionDisconnected {
		return nil, s.closedErrLocked()
	}
	return s.muxed, nil
}

// AcceptLoop 接受入站流，直到会话断开或 ctx 取消
//
// 每个入站流在独立协程中协商协议并交给处理器，
// 单个流的失败只关闭该流。会话断开时返回 nil。
func (s *Session) AcceptLoop(ctx context.Context) error {
	mc, err := s.waitReady(ctx, false)
	if err != nil {
		if errors.Is(err, types.ErrConnectionClosed) {
			return nil
		}
		return err
	}

	for {
		st, err := mc.AcceptStream(ctx)
		if err != nil {
			if mc.IsClosed() {
				return nil
			}
			return err
		}
		go s.handleStream(ctx, st)
	}
}

func (s *Session) handleStream(ctx context.Context, st interfaces.MuxedStream) {
	proto, err := s.cfg.Negotiator.NegotiateFunc(ctx, st, s.supports)
	if err != nil {
		logger.Debug("入站流协商失败", "session", s.id, "stream", st.StreamID(), "err", err)
		return
	}

	h, ok := s.cfg.Registry.Handler(proto)
	if !ok {
		_ = st.Reset()
		return
	}

	if err := h.Handle(ctx, st, s); err != nil {
		logger.Debug("协议处理失败", "session", s.id, "protocol", proto, "err", err)
		_ = st.Reset()
		return
	}
	_ = st.Close()
}

func (s *Session) supports(id types.ProtocolID) bool {
	if s.cfg.Registry == nil {
		return false
	}
	_, ok := s.cfg.Registry.Handler(id)
	return ok
}

// Ping 测量会话往返时间
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	mc, err := s.waitReady(ctx, false)
	if err != nil {
		return 0, err
	}
	return mc.Ping(ctx)
}

// ============================================================================
//                              断开
// ============================================================================

// Disconnect 断开会话，只生效一次
//
// 依次关闭多路复用层（发送 GoAway 并重置所有流）、安全层和物理 Channel，
// 然后按注册顺序执行断开回调。
func (s *Session) Disconnect() error {
	return s.teardown(types.ErrConnectionClosed)
}

func (s *Session) teardown(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = types.SessionDisconnected
		if cause == nil {
			cause = types.ErrConnectionClosed
		}
		s.err = cause
		mc, sec := s.muxed, s.secure
		peer := s.remote
		s.mu.Unlock()

		close(s.done)

		if mc != nil {
			err = multierr.Append(err, mc.Close())
		}
		if sec != nil {
			err = multierr.Append(err, sec.Close())
			// 安全层排空后自行关闭物理 Channel
			select {
			case <-s.raw.Done():
			case <-time.After(s.cfg.CloseTimeout):
			}
		}
		err = multierr.Append(err, s.raw.Close())

		if prev == types.SessionReady {
			s.cfg.Metrics.SessionClosed()
		}
		logger.Info("会话断开", "session", s.id, "peer", peer.ShortString(), "state", prev, "cause", cause)

		s.notify()
	})
	return err
}

func (s *Session) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedErrLocked()
}

func (s *Session) closedErrLocked() error {
	if s.err != nil && !errors.Is(s.err, types.ErrConnectionClosed) {
		return fmt.Errorf("%w: %w", types.ErrConnectionClosed, s.err)
	}
	return types.ErrConnectionClosed
}
