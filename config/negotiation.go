package config

import (
	"errors"
	"time"
)

// NegotiationConfig multistream 协商配置
type NegotiationConfig struct {
	// Timeout 单次协商超时（含全部往返）
	Timeout Duration `json:"timeout"`

	// MaxProposals 接受方最多处理的提议数
	MaxProposals int `json:"max_proposals"`
}

// DefaultNegotiationConfig 返回默认协商配置
func DefaultNegotiationConfig() NegotiationConfig {
	return NegotiationConfig{
		Timeout:      Duration(60 * time.Second),
		MaxProposals: 100,
	}
}

// Validate 验证协商配置
func (c NegotiationConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("negotiate timeout must be positive")
	}
	if c.MaxProposals <= 0 {
		return errors.New("max proposals must be positive")
	}
	return nil
}

// WithTimeout 设置协商超时
func (c NegotiationConfig) WithTimeout(timeout time.Duration) NegotiationConfig {
	c.Timeout = Duration(timeout)
	return c
}
