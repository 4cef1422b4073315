package upgrader

import (
	"time"

	"github.com/dep2p/go-p2pstack/internal/core/metrics"
	"github.com/dep2p/go-p2pstack/internal/core/multistream"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
)

// Config 升级器配置
type Config struct {
	// SecurityTransports 安全传输列表（按优先级排序）
	SecurityTransports []interfaces.SecureTransport

	// StreamMuxers 流多路复用器列表（按优先级排序）
	StreamMuxers []interfaces.StreamMuxer

	// Negotiator 协商器，为空时使用默认超时
	Negotiator *multistream.Negotiator

	// Registry 入站流协议处理器，传给每个会话
	Registry interfaces.ProtocolRegistry

	// Metrics 指标（可选）
	Metrics *metrics.Metrics

	// CloseTimeout 会话断开时等待排空的时间
	CloseTimeout time.Duration
}
