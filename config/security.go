package config

import (
	"errors"
	"time"
)

// SecurityConfig 安全传输配置
//
//   - Noise: XX 握手，ChaChaPoly 加密
//   - TLS: TLS 1.3，自签名证书携带身份公钥
//   - Plaintext: 仅交换公钥，用于测试与受信网络
type SecurityConfig struct {
	// EnableNoise 是否启用 Noise
	EnableNoise bool `json:"enable_noise"`

	// EnableTLS 是否启用 TLS
	EnableTLS bool `json:"enable_tls"`

	// EnablePlaintext 是否启用明文协议
	EnablePlaintext bool `json:"enable_plaintext"`

	// PreferredProtocol 首选协议，作为 multistream 候选列表的第一项
	// 可选值: "noise", "tls", "plaintext"
	PreferredProtocol string `json:"preferred_protocol"`

	// HandshakeTimeout 安全握手超时
	HandshakeTimeout Duration `json:"handshake_timeout"`
}

// DefaultSecurityConfig 返回默认安全配置
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		EnableNoise:       true,
		EnableTLS:         true,
		EnablePlaintext:   false, // 明文默认关闭
		PreferredProtocol: "noise",
		HandshakeTimeout:  Duration(30 * time.Second),
	}
}

// Validate 验证安全配置
func (c SecurityConfig) Validate() error {
	if !c.EnableNoise && !c.EnableTLS && !c.EnablePlaintext {
		return errors.New("at least one security protocol must be enabled")
	}

	switch c.PreferredProtocol {
	case "noise":
		if !c.EnableNoise {
			return errors.New("preferred protocol is noise but Noise is disabled")
		}
	case "tls":
		if !c.EnableTLS {
			return errors.New("preferred protocol is tls but TLS is disabled")
		}
	case "plaintext":
		if !c.EnablePlaintext {
			return errors.New("preferred protocol is plaintext but plaintext is disabled")
		}
	default:
		return errors.New("preferred protocol must be 'noise', 'tls' or 'plaintext'")
	}

	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be positive")
	}
	return nil
}

// WithNoise 设置是否启用 Noise
func (c SecurityConfig) WithNoise(enabled bool) SecurityConfig {
	c.EnableNoise = enabled
	return c
}

// WithTLS 设置是否启用 TLS
func (c SecurityConfig) WithTLS(enabled bool) SecurityConfig {
	c.EnableTLS = enabled
	return c
}

// WithPlaintext 设置是否启用明文协议
func (c SecurityConfig) WithPlaintext(enabled bool) SecurityConfig {
	c.EnablePlaintext = enabled
	return c
}

// WithPreferredProtocol 设置首选协议
func (c SecurityConfig) WithPreferredProtocol(protocol string) SecurityConfig {
	c.PreferredProtocol = protocol
	return c
}
