package upgrader

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-p2pstack/internal/core/multistream"
	"github.com/dep2p/go-p2pstack/internal/core/session"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/upgrader")

var (
	// ErrNoSecurityTransport 没有安全传输
	ErrNoSecurityTransport = errors.New("upgrader: no security transport configured")

	// ErrNoStreamMuxer 没有流复用器
	ErrNoStreamMuxer = errors.New("upgrader: no stream muxer configured")

	// ErrMuxerSetupFailed 多路复用器设置失败
	ErrMuxerSetupFailed = errors.New("upgrader: muxer setup failed")
)

// Upgrader 连接升级器
type Upgrader struct {
	local types.PeerID
	cfg   Config

	securityIDs []types.ProtocolID
	muxerIDs    []types.ProtocolID
}

var _ session.Layers = (*Upgrader)(nil)

// New 创建连接升级器
func New(local types.PeerID, cfg Config) (*Upgrader, error) {
	if len(cfg.SecurityTransports) == 0 {
		return nil, ErrNoSecurityTransport
	}
	if len(cfg.StreamMuxers) == 0 {
		return nil, ErrNoStreamMuxer
	}
	if cfg.Negotiator == nil {
		cfg.Negotiator = multistream.New(multistream.WithMetrics(cfg.Metrics))
	}

	u := &Upgrader{local: local, cfg: cfg}
	for _, st := range cfg.SecurityTransports {
		u.securityIDs = append(u.securityIDs, st.ID())
	}
	for _, sm := range cfg.StreamMuxers {
		u.muxerIDs = append(u.muxerIDs, sm.ID())
	}
	return u, nil
}

// NewSession 创建尚未升级的会话，调用方随后调用 Session.Upgrade
func (u *Upgrader) NewSession(raw interfaces.Channel, dir types.Direction, remote types.PeerID) *session.Session {
	return session.New(raw, dir, remote, u, session.Config{
		LocalPeer:    u.local,
		Negotiator:   u.cfg.Negotiator,
		Registry:     u.cfg.Registry,
		Metrics:      u.cfg.Metrics,
		CloseTimeout: u.cfg.CloseTimeout,
	})
}

// Upgrade 把原始 Channel 升级为就绪会话
//
// 失败时 raw 已关闭，不返回会话。
func (u *Upgrader) Upgrade(ctx context.Context, raw interfaces.Channel, dir types.Direction, remote types.PeerID) (*session.Session, error) {
	s := u.NewSession(raw, dir, remote)
	if err := s.Upgrade(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// UpgradeSecurity 协商安全协议并完成握手
func (u *Upgrader) UpgradeSecurity(ctx context.Context, ch interfaces.Channel, dir types.Direction, peer types.PeerID) (interfaces.SecureChannel, error) {
	logger.Debug("协商安全协议", "channel", ch.ID(), "dir", dir, "peer", peer.ShortString())
	proto, err := u.negotiate(ctx, ch, dir, u.securityIDs)
	if err != nil {
		return nil, fmt.Errorf("security negotiation: %w", err)
	}

	st := u.securityTransport(proto)
	var sec interfaces.SecureChannel
	if dir == types.DirOutbound {
		sec, err = st.SecureOutbound(ctx, ch, peer)
	} else {
		sec, err = st.SecureInbound(ctx, ch, peer)
	}
	if err != nil {
		_ = ch.Reset()
		return nil, fmt.Errorf("security handshake: %w", err)
	}
	return sec, nil
}

// UpgradeMuxer 协商多路复用协议并创建多路复用连接
func (u *Upgrader) UpgradeMuxer(ctx context.Context, ch interfaces.Channel, dir types.Direction) (interfaces.MuxedConn, types.ProtocolID, error) {
	proto, err := u.negotiate(ctx, ch, dir, u.muxerIDs)
	if err != nil {
		return nil, "", fmt.Errorf("muxer negotiation: %w", err)
	}

	mc, err := u.streamMuxer(proto).NewConn(ch, dir == types.DirInbound)
	if err != nil {
		_ = ch.Reset()
		return nil, "", fmt.Errorf("%w: %w", ErrMuxerSetupFailed, err)
	}
	return mc, proto, nil
}

// negotiate 发起方提议，接受方选择
func (u *Upgrader) negotiate(ctx context.Context, ch interfaces.Channel, dir types.Direction, ids []types.ProtocolID) (types.ProtocolID, error) {
	if dir == types.DirOutbound {
		return u.cfg.Negotiator.Select(ctx, ch, ids)
	}
	return u.cfg.Negotiator.Negotiate(ctx, ch, ids)
}

func (u *Upgrader) securityTransport(id types.ProtocolID) interfaces.SecureTransport {
	for _, st := range u.cfg.SecurityTransports {
		if st.ID() == id {
			return st
		}
	}
	return nil
}

func (u *Upgrader) streamMuxer(id types.ProtocolID) interfaces.StreamMuxer {
	for _, sm := range u.cfg.StreamMuxers {
		if sm.ID() == id {
			return sm
		}
	}
	return nil
}
