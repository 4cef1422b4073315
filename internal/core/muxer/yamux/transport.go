package yamux

import (
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/protocolids"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// Transport yamux 多路复用器工厂，实现 interfaces.StreamMuxer
type Transport struct {
	cfg Config
}

var _ interfaces.StreamMuxer = (*Transport)(nil)

// NewTransport 创建多路复用器工厂
func NewTransport(cfg Config) *Transport {
	return &Transport{cfg: cfg}
}

// DefaultTransport 使用默认配置的工厂
func DefaultTransport() *Transport {
	return NewTransport(DefaultConfig())
}

// ID 返回协议 ID
func (t *Transport) ID() types.ProtocolID {
	return protocolids.Yamux
}

// NewConn 在安全 Channel 上创建多路复用会话
func (t *Transport) NewConn(ch interfaces.Channel, isServer bool) (interfaces.MuxedConn, error) {
	return NewMuxer(ch, isServer, t.cfg)
}

// Config 返回配置
func (t *Transport) Config() Config {
	return t.cfg
}
