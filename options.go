package p2pstack

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dep2p/go-p2pstack/internal/core/identity"
	"github.com/dep2p/go-p2pstack/internal/core/transport/memory"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
)

// Option 主机选项
type Option func(*options)

type options struct {
	identity   *identity.Identity
	registerer prometheus.Registerer
	network    *memory.Network
}

// WithIdentity 使用给定身份，忽略配置中的密钥文件
func WithIdentity(id *identity.Identity) Option {
	return func(o *options) {
		o.identity = id
	}
}

// WithMetrics 把指标注册到 reg
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithMemoryNetwork 指定内存传输的监听表，默认使用进程级监听表
func WithMemoryNetwork(n *memory.Network) Option {
	return func(o *options) {
		o.network = n
	}
}

// WithZapLogger 把所有组件日志输出到 z
func WithZapLogger(z *zap.Logger) Option {
	return func(*options) {
		log.SetZap(z)
	}
}
