package yamux

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-p2pstack/config"
	"github.com/dep2p/go-p2pstack/internal/core/metrics"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// Config 多路复用器配置
type Config struct {
	// InitialWindow 每个流的初始接收窗口
	InitialWindow uint32

	// MaxWindow 接收窗口上限
	MaxWindow uint32

	// WindowPolicy 窗口增长策略
	WindowPolicy types.WindowPolicy

	// GrowthInterval 动态策略的增长判定间隔
	GrowthInterval time.Duration

	// MaxStreams 最大并发流数（入站与出站合计）
	MaxStreams int

	// AcceptBacklog 待接受入站流队列长度
	AcceptBacklog int

	// WriteQueueSize 写循环帧队列长度
	WriteQueueSize int

	// MaxFrameSize 单个数据帧负载上限
	MaxFrameSize uint32

	// EnableKeepAlive 是否启用保活
	EnableKeepAlive bool

	// KeepAliveInterval 保活间隔
	KeepAliveInterval time.Duration

	// KeepAliveTimeout 保活响应超时
	KeepAliveTimeout time.Duration

	// CloseTimeout Close 时等待 GoAway 写出的时间
	CloseTimeout time.Duration

	// Clock 时钟，nil 使用系统时钟
	Clock clock.Clock

	// Metrics 指标，可为 nil
	Metrics *metrics.Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(config.DefaultMuxerConfig())
}

// ConfigFromUnified 从统一配置转换
func ConfigFromUnified(c config.MuxerConfig) Config {
	return Config{
		InitialWindow:     c.InitialWindow,
		MaxWindow:         c.MaxWindow,
		WindowPolicy:      c.Policy(),
		GrowthInterval:    c.GrowthInterval.Duration(),
		MaxStreams:        c.MaxStreams,
		AcceptBacklog:     c.AcceptBacklog,
		WriteQueueSize:    c.WriteQueueSize,
		MaxFrameSize:      c.MaxFrameSize,
		EnableKeepAlive:   c.EnableKeepAlive,
		KeepAliveInterval: c.KeepAliveInterval.Duration(),
		KeepAliveTimeout:  c.KeepAliveTimeout.Duration(),
		CloseTimeout:      5 * time.Second,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.InitialWindow == 0 || c.MaxWindow < c.InitialWindow {
		return fmt.Errorf("%w: initial=%d max=%d", types.ErrWindowRange, c.InitialWindow, c.MaxWindow)
	}
	if c.MaxStreams <= 0 {
		return errors.New("yamux: max streams must be positive")
	}
	if c.AcceptBacklog <= 0 {
		return errors.New("yamux: accept backlog must be positive")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("yamux: write queue size must be positive")
	}
	if c.MaxFrameSize == 0 {
		return errors.New("yamux: max frame size must be positive")
	}
	if c.EnableKeepAlive && (c.KeepAliveInterval <= 0 || c.KeepAliveTimeout <= 0) {
		return errors.New("yamux: keep alive interval and timeout must be positive")
	}
	return nil
}

// maxFrameLen 入站数据帧长度上限，超出即判定为致命错误
func (c Config) maxFrameLen() uint32 {
	return uint32(min(2*uint64(c.MaxWindow), math.MaxUint32))
}

func (c Config) clock() clock.Clock {
	if c.Clock == nil {
		return clock.New()
	}
	return c.Clock
}
