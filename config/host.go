package config

import (
	"errors"
	"time"
)

// HostConfig 主机配置
type HostConfig struct {
	// DialAttempts 单次 Dial 的最大尝试次数
	DialAttempts int `json:"dial_attempts"`

	// DialBackoffMin 首次重试等待
	DialBackoffMin Duration `json:"dial_backoff_min"`

	// DialBackoffMax 重试等待上限
	DialBackoffMax Duration `json:"dial_backoff_max"`

	// ProtocolCacheSize 记录协议偏好的远端节点数
	ProtocolCacheSize int `json:"protocol_cache_size"`
}

// DefaultHostConfig 返回默认主机配置
func DefaultHostConfig() HostConfig {
	return HostConfig{
		DialAttempts:      3,
		DialBackoffMin:    Duration(100 * time.Millisecond),
		DialBackoffMax:    Duration(time.Minute),
		ProtocolCacheSize: 1024,
	}
}

// Validate 验证主机配置
func (c HostConfig) Validate() error {
	if c.DialAttempts <= 0 {
		return errors.New("dial attempts must be positive")
	}
	if c.DialBackoffMin <= 0 || c.DialBackoffMax < c.DialBackoffMin {
		return errors.New("dial backoff range is invalid")
	}
	if c.ProtocolCacheSize <= 0 {
		return errors.New("protocol cache size must be positive")
	}
	return nil
}

// WithDialAttempts 设置拨号尝试次数
func (c HostConfig) WithDialAttempts(n int) HostConfig {
	c.DialAttempts = n
	return c
}
