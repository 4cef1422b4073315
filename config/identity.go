package config

import "errors"

// IdentityConfig 身份配置
//
// 节点使用 Curve25519 静态密钥，既用于 Noise 握手，也用于派生 PeerID。
type IdentityConfig struct {
	// KeyFile 私钥文件路径（PEM）
	// 为空时在内存中生成临时密钥
	KeyFile string `json:"key_file"`

	// AutoGenerate 密钥文件不存在时是否自动生成并写入
	AutoGenerate bool `json:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyFile:      "",   // 默认空：临时密钥
		AutoGenerate: true, // 文件不存在时生成
	}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.KeyFile == "" && !c.AutoGenerate {
		return errors.New("key file is required when auto generate is disabled")
	}
	return nil
}

// WithKeyFile 设置密钥文件路径
func (c IdentityConfig) WithKeyFile(path string) IdentityConfig {
	c.KeyFile = path
	return c
}
