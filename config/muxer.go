package config

import (
	"errors"
	"time"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// MuxerConfig 多路复用与流控配置
type MuxerConfig struct {
	// InitialWindow 每个流的初始接收窗口（字节）
	InitialWindow uint32 `json:"initial_window"`

	// MaxWindow 动态策略下接收窗口的上限（字节）
	MaxWindow uint32 `json:"max_window"`

	// WindowPolicy 窗口增长策略: "fixed" 或 "dynamic"
	WindowPolicy string `json:"window_policy"`

	// GrowthInterval 动态策略下，两次扩展间隔小于该值时窗口翻倍
	GrowthInterval Duration `json:"growth_interval"`

	// MaxStreams 最大并发流数
	MaxStreams int `json:"max_streams"`

	// AcceptBacklog 未被 AcceptStream 取走的入站流上限
	AcceptBacklog int `json:"accept_backlog"`

	// WriteQueueSize 写循环帧队列长度
	WriteQueueSize int `json:"write_queue_size"`

	// MaxFrameSize 单个数据帧负载上限（字节）
	MaxFrameSize uint32 `json:"max_frame_size"`

	// EnableKeepAlive 是否启用保活
	EnableKeepAlive bool `json:"enable_keep_alive"`

	// KeepAliveInterval 保活间隔
	KeepAliveInterval Duration `json:"keep_alive_interval"`

	// KeepAliveTimeout 保活响应超时，超时即判定连接失效
	KeepAliveTimeout Duration `json:"keep_alive_timeout"`
}

// DefaultMuxerConfig 返回默认多路复用配置
func DefaultMuxerConfig() MuxerConfig {
	return MuxerConfig{
		InitialWindow:     256 * 1024,       // 256 KiB，与 yamux 默认一致
		MaxWindow:         16 * 1024 * 1024, // 16 MiB
		WindowPolicy:      "dynamic",
		GrowthInterval:    Duration(time.Second),
		MaxStreams:        1024,
		AcceptBacklog:     256,
		WriteQueueSize:    64,
		MaxFrameSize:      64 * 1024,
		EnableKeepAlive:   true,
		KeepAliveInterval: Duration(30 * time.Second),
		KeepAliveTimeout:  Duration(10 * time.Second),
	}
}

// Validate 验证多路复用配置
func (c MuxerConfig) Validate() error {
	if c.InitialWindow == 0 {
		return errors.New("initial window must be positive")
	}
	if c.MaxWindow < c.InitialWindow {
		return errors.New("max window must be at least initial window")
	}
	if _, err := types.ParseWindowPolicy(c.WindowPolicy); err != nil {
		return err
	}
	if c.MaxStreams <= 0 {
		return errors.New("max streams must be positive")
	}
	if c.AcceptBacklog <= 0 {
		return errors.New("accept backlog must be positive")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be positive")
	}
	if c.MaxFrameSize == 0 {
		return errors.New("max frame size must be positive")
	}
	if c.EnableKeepAlive {
		if c.KeepAliveInterval <= 0 {
			return errors.New("keep alive interval must be positive")
		}
		if c.KeepAliveTimeout <= 0 {
			return errors.New("keep alive timeout must be positive")
		}
	}
	return nil
}

// Policy 返回解析后的窗口策略
func (c MuxerConfig) Policy() types.WindowPolicy {
	p, _ := types.ParseWindowPolicy(c.WindowPolicy)
	return p
}

// WithWindow 设置初始与最大窗口
func (c MuxerConfig) WithWindow(initial, max uint32) MuxerConfig {
	c.InitialWindow = initial
	c.MaxWindow = max
	return c
}

// WithWindowPolicy 设置窗口策略
func (c MuxerConfig) WithWindowPolicy(policy string) MuxerConfig {
	c.WindowPolicy = policy
	return c
}

// WithMaxStreams 设置最大并发流数
func (c MuxerConfig) WithMaxStreams(n int) MuxerConfig {
	c.MaxStreams = n
	return c
}

// WithKeepAlive 设置保活
func (c MuxerConfig) WithKeepAlive(enabled bool) MuxerConfig {
	c.EnableKeepAlive = enabled
	return c
}
