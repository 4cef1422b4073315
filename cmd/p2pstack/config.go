package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-p2pstack/config"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量，优先级高于配置文件、低于命令行参数
const (
	envPrefix       = "P2PSTACK_"
	envListenAddrs  = "LISTEN_ADDRS"
	envIdentityFile = "IDENTITY_KEY_FILE"
	envWindowPolicy = "WINDOW_POLICY"
	envMaxStreams   = "MAX_STREAMS"
	envEnablePlain  = "ENABLE_PLAINTEXT"
	envEnableTLS    = "ENABLE_TLS"
	envPreferredSec = "PREFERRED_SECURITY"
)

// loadConfig 加载配置文件，为空时使用默认配置
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(), nil
	}
	return config.LoadFile(path)
}

// applyEnvOverrides 应用环境变量覆盖配置
//
//   - P2PSTACK_LISTEN_ADDRS: 监听地址（逗号分隔）
//   - P2PSTACK_IDENTITY_KEY_FILE: 身份密钥文件
//   - P2PSTACK_WINDOW_POLICY: fixed / dynamic
//   - P2PSTACK_MAX_STREAMS: 最大并发流数
//   - P2PSTACK_ENABLE_PLAINTEXT: 启用明文安全层
//   - P2PSTACK_ENABLE_TLS: 启用 TLS 安全层
//   - P2PSTACK_PREFERRED_SECURITY: noise / tls / plaintext
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + envListenAddrs); v != "" {
		cfg.Transport = cfg.Transport.WithListenAddrs(splitList(v)...)
	}
	if v := os.Getenv(envPrefix + envIdentityFile); v != "" {
		cfg.Identity = cfg.Identity.WithKeyFile(v)
	}
	if v := os.Getenv(envPrefix + envWindowPolicy); v != "" {
		cfg.Muxer = cfg.Muxer.WithWindowPolicy(v)
	}
	if v := os.Getenv(envPrefix + envMaxStreams); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Muxer = cfg.Muxer.WithMaxStreams(n)
		}
	}
	if v := os.Getenv(envPrefix + envEnablePlain); v != "" {
		cfg.Security = cfg.Security.WithPlaintext(v == "true" || v == "1")
	}
	if v := os.Getenv(envPrefix + envEnableTLS); v != "" {
		cfg.Security = cfg.Security.WithTLS(v == "true" || v == "1")
	}
	if v := os.Getenv(envPrefix + envPreferredSec); v != "" {
		cfg.Security = cfg.Security.WithPreferredProtocol(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
