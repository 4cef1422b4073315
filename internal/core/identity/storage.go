package identity

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dep2p/go-p2pstack/config"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
)

var logger = log.Logger("core/identity")

const pemTypePrivate = "X25519 PRIVATE KEY"

var (
	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrKeyNotFound 密钥文件不存在
	ErrKeyNotFound = errors.New("identity: key not found")
)

// ============================================================================
//                              私钥持久化
// ============================================================================

// SavePrivateKeyPEM 以 PEM 格式保存私钥，文件权限 0600
func SavePrivateKeyPEM(id *Identity, path string) error {
	data := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivate,
		Bytes: id.PrivateKey(),
	})
	return atomicWriteFile(path, data, 0600)
}

// LoadPrivateKeyPEM 从 PEM 文件加载身份
func LoadPrivateKeyPEM(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePrivate {
		return nil, ErrInvalidPEM
	}
	return FromPrivateKey(block.Bytes)
}

// Load 按配置加载或生成身份
//
// KeyFile 为空时生成临时身份；文件不存在且 AutoGenerate 开启时生成并写入。
func Load(cfg config.IdentityConfig) (*Identity, error) {
	if cfg.KeyFile == "" {
		id, err := Generate(nil)
		if err != nil {
			return nil, err
		}
		logger.Debug("使用临时身份", "peer", id.PeerID().ShortString())
		return id, nil
	}

	id, err := LoadPrivateKeyPEM(cfg.KeyFile)
	switch {
	case err == nil:
		logger.Info("已加载身份", "peer", id.PeerID().ShortString(), "file", cfg.KeyFile)
		return id, nil
	case errors.Is(err, ErrKeyNotFound) && cfg.AutoGenerate:
	default:
		return nil, fmt.Errorf("load key %s: %w", cfg.KeyFile, err)
	}

	id, err = Generate(nil)
	if err != nil {
		return nil, err
	}
	if err := SavePrivateKeyPEM(id, cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("save key %s: %w", cfg.KeyFile, err)
	}
	logger.Info("已生成新身份", "peer", id.PeerID().ShortString(), "file", cfg.KeyFile)
	return id, nil
}

// atomicWriteFile 临时文件 + rename，失败时目标文件保持不变
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("原子 rename 失败: %w", err)
	}

	success = true
	return nil
}
