// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Muxer = cfg.Muxer.WithWindowPolicy("dynamic")
//
//	// 从 JSON 加载（未出现的字段保留默认值）
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config 是 go-p2pstack 的完整配置结构
//
//   - Identity: 本地密钥
//   - Transport: 传输协议（TCP / 内存）
//   - Security: 安全层（Noise / 明文）
//   - Negotiation: multistream 协商
//   - Muxer: yamux 多路复用与流控
//   - Host: 拨号重试与协议缓存
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Security 安全传输配置
	Security SecurityConfig `json:"security"`

	// Negotiation 协议协商配置
	Negotiation NegotiationConfig `json:"negotiation"`

	// Muxer 多路复用配置
	Muxer MuxerConfig `json:"muxer"`

	// Host 主机配置
	Host HostConfig `json:"host"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Transport:   DefaultTransportConfig(),
		Security:    DefaultSecurityConfig(),
		Negotiation: DefaultNegotiationConfig(),
		Muxer:       DefaultMuxerConfig(),
		Host:        DefaultHostConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Negotiation.Validate(); err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}
	if err := c.Muxer.Validate(); err != nil {
		return fmt.Errorf("muxer: %w", err)
	}
	if err := c.Host.Validate(); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	return nil
}

// FromJSON 从 JSON 加载配置
//
// 以默认配置为底，JSON 中出现的字段覆盖默认值，然后校验。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return FromJSON(data)
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	out := *c
	out.Transport.ListenAddrs = append([]string(nil), c.Transport.ListenAddrs...)
	return &out
}
