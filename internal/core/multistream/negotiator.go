// Package multistream 实现 multistream-select 协议协商
//
// 线格式为以 '\n' 结尾的 UTF-8 文本行：
//
//	发起方                         接受方
//	/multistream/1.0.0\n   ──>
//	                       <──    /multistream/1.0.0\n
//	/x/1.0.0\n             ──>
//	                       <──    na\n
//	/y/1.0.0\n             ──>
//	                       <──    /y/1.0.0\n
//
// 两端都先写协议头再读对端协议头。行按字节读取，
// 协商结束后 Channel 上的后续字节原样留给选中的协议。
package multistream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-p2pstack/internal/core/metrics"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/multistream")

// ============================================================================
//                              常量
// ============================================================================

const (
	// MaxMsgLen 单行最大长度
	MaxMsgLen = 64 * 1024

	// DefaultTimeout 默认协商超时
	DefaultTimeout = 60 * time.Second

	// DefaultMaxProposals 接受方最多处理的提议数
	DefaultMaxProposals = 100
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrNoCandidates 候选协议列表为空
	ErrNoCandidates = errors.New("multistream: no candidate protocols")

	// ErrMessageTooLong 单行超过 MaxMsgLen
	ErrMessageTooLong = errors.New("multistream: message too long")

	// ErrUnexpectedResponse 对端响应不符合协议
	ErrUnexpectedResponse = errors.New("multistream: unexpected response")

	// ErrTooManyProposals 提议数超过上限
	ErrTooManyProposals = errors.New("multistream: too many proposals")
)

// ============================================================================
//                              Negotiator
// ============================================================================

// Negotiator 协议协商器，无状态，可并发使用
type Negotiator struct {
	timeout      time.Duration
	maxProposals int
	metrics      *metrics.Metrics
}

// Option 协商器选项
type Option func(*Negotiator)

// WithTimeout 设置单次协商超时，0 表示不限
func WithTimeout(d time.Duration) Option {
	return func(n *Negotiator) {
		n.timeout = d
	}
}

// WithMaxProposals 设置接受方最多处理的提议数
func WithMaxProposals(max int) Option {
	return func(n *Negotiator) {
		if max > 0 {
			n.maxProposals = max
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Negotiator) {
		n.metrics = m
	}
}

// New 创建协商器
func New(opts ...Option) *Negotiator {
	n := &Negotiator{
		timeout:      DefaultTimeout,
		maxProposals: DefaultMaxProposals,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Select 发起方：按顺序提议候选协议，返回对端接受的第一个
//
// 任何失败都会重置 ch。所有候选都被拒绝时返回的错误同时匹配
// types.ErrNegotiationFailed 与 types.ErrNotSupported。
func (n *Negotiator) Select(ctx context.Context, ch interfaces.Channel, candidates []types.ProtocolID) (types.ProtocolID, error) {
	start := time.Now()
	proto, err := n.selectProto(ctx, ch, candidates)
	n.metrics.Negotiation(metrics.RoleSelect, err, time.Since(start))
	if err != nil {
		_ = ch.Reset()
		logger.Debug("协议选择失败", "channel", ch.ID(), "candidates", candidates, "err", err)
		return "", err
	}
	logger.Debug("协议选择成功", "channel", ch.ID(), "protocol", proto)
	return proto, nil
}

func (n *Negotiator) selectProto(ctx context.Context, ch interfaces.Channel, candidates []types.ProtocolID) (types.ProtocolID, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %w", types.ErrNegotiationFailed, ErrNoCandidates)
	}
	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			return "", fmt.Errorf("%w: %w", types.ErrNegotiationFailed, err)
		}
	}

	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	if err := handshake(ctx, ch); err != nil {
		return "", err
	}

	for _, proto := range candidates {
		if err := writeLine(ctx, ch, string(proto)); err != nil {
			return "", failure(err)
		}
		resp, err := readLine(ctx, ch)
		if err != nil {
			return "", failure(err)
		}
		switch resp {
		case string(proto):
			return proto, nil
		case protocolids.NotAvailable:
			continue
		default:
			return "", fmt.Errorf("%w: %w: proposed %s, got %q",
				types.ErrNegotiationFailed, ErrUnexpectedResponse, proto, resp)
		}
	}

	return "", fmt.Errorf("%w: %w", types.ErrNegotiationFailed, types.ErrNotSupported)
}

// Negotiate 接受方：对每个提议回应协议 ID（接受）或 na（拒绝）
func (n *Negotiator) Negotiate(ctx context.Context, ch interfaces.Channel, supported []types.ProtocolID) (types.ProtocolID, error) {
	set := make(map[types.ProtocolID]struct{}, len(supported))
	for _, p := range supported {
		set[p] = struct{}{}
	}
	return n.NegotiateFunc(ctx, ch, func(p types.ProtocolID) bool {
		_, ok := set[p]
		return ok
	})
}

// NegotiateFunc 接受方，由 match 判断是否支持提议的协议
func (n *Negotiator) NegotiateFunc(ctx context.Context, ch interfaces.Channel, match func(types.ProtocolID) bool) (types.ProtocolID, error) {
	start := time.Now()
	proto, err := n.negotiate(ctx, ch, match)
	n.metrics.Negotiation(metrics.RoleNegotiate, err, time.Since(start))
	if err != nil {
		_ = ch.Reset()
		logger.Debug("入站协商失败", "channel", ch.ID(), "err", err)
		return "", err
	}
	logger.Debug("接受入站协议", "channel", ch.ID(), "protocol", proto)
	return proto, nil
}

func (n *Negotiator) negotiate(ctx context.Context, ch interfaces.Channel, match func(types.ProtocolID) bool) (types.ProtocolID, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	if err := handshake(ctx, ch); err != nil {
		return "", err
	}

	for attempt := 0; attempt < n.maxProposals; attempt++ {
		msg, err := readLine(ctx, ch)
		if err != nil {
			return "", failure(err)
		}

		proto := types.ProtocolID(msg)
		if proto.Validate() == nil && match(proto) {
			if err := writeLine(ctx, ch, msg); err != nil {
				return "", failure(err)
			}
			return proto, nil
		}

		logger.Debug("拒绝入站协议", "channel", ch.ID(), "protocol", msg)
		if err := writeLine(ctx, ch, protocolids.NotAvailable); err != nil {
			return "", failure(err)
		}
	}

	return "", fmt.Errorf("%w: %w (%d)", types.ErrNegotiationFailed, ErrTooManyProposals, n.maxProposals)
}

func (n *Negotiator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, n.timeout)
}

// handshake 交换协议头
func handshake(ctx context.Context, ch interfaces.Channel) error {
	if err := writeLine(ctx, ch, string(protocolids.Multistream)); err != nil {
		return failure(err)
	}
	header, err := readLine(ctx, ch)
	if err != nil {
		return failure(err)
	}
	if header != string(protocolids.Multistream) {
		return fmt.Errorf("%w: %w: expected %s, got %q",
			types.ErrNegotiationFailed, ErrUnexpectedResponse, protocolids.Multistream, header)
	}
	return nil
}

// failure 包装读写错误，取消错误保持原样
func failure(err error) error {
	if errors.Is(err, types.ErrCancelled) || errors.Is(err, types.ErrNegotiationFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrNegotiationFailed, err)
}
