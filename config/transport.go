package config

import (
	"errors"
	"strings"
	"time"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// EnableTCP 是否启用 TCP 传输
	EnableTCP bool `json:"enable_tcp"`

	// EnableMemory 是否启用进程内传输
	EnableMemory bool `json:"enable_memory"`

	// ListenAddrs 启动时监听的地址，格式 "scheme://address"
	ListenAddrs []string `json:"listen_addrs,omitempty"`

	// DialTimeout 单次拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// ReadBufferSize 每个物理连接的读缓冲上限（字节）
	ReadBufferSize int `json:"read_buffer_size"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableTCP:      true,
		EnableMemory:   true,
		DialTimeout:    Duration(10 * time.Second),
		ReadBufferSize: 1 << 20, // 1 MiB，写方超出后阻塞
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if !c.EnableTCP && !c.EnableMemory {
		return errors.New("at least one transport must be enabled")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.ReadBufferSize <= 0 {
		return errors.New("read buffer size must be positive")
	}
	for _, addr := range c.ListenAddrs {
		if !strings.Contains(addr, "://") {
			return errors.New("listen address must be scheme://address")
		}
	}
	return nil
}

// WithListenAddrs 设置监听地址
func (c TransportConfig) WithListenAddrs(addrs ...string) TransportConfig {
	c.ListenAddrs = addrs
	return c
}

// WithTCP 设置是否启用 TCP
func (c TransportConfig) WithTCP(enabled bool) TransportConfig {
	c.EnableTCP = enabled
	return c
}
