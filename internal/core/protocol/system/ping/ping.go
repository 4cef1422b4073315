package ping

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("protocol/ping")

const (
	// PingSize Ping 消息大小（32 字节）
	PingSize = 32

	// HandlerIdleTimeout 服务端等待下一个请求的时间
	HandlerIdleTimeout = 60 * time.Second
)

// ErrDataMismatch 回显数据不匹配
var ErrDataMismatch = errors.New("ping: echo data mismatch")

// Service Ping 服务端，无状态
type Service struct {
	idleTimeout time.Duration
}

var _ interfaces.ProtocolHandler = (*Service)(nil)

// NewService 创建 Ping 服务
func NewService() *Service {
	return &Service{idleTimeout: HandlerIdleTimeout}
}

// Handle 读取 32 字节并回显，直到对端半关闭或空闲超时
func (s *Service) Handle(ctx context.Context, ch interfaces.Channel, sess interfaces.SessionContext) error {
	buf := make([]byte, PingSize)
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.idleTimeout)
		_, err := ch.ReadContext(readCtx, buf, types.ReadFull)
		cancel()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ping read: %w", err)
		}
		if _, err := ch.WriteContext(ctx, buf); err != nil {
			return fmt.Errorf("ping write: %w", err)
		}
		if sess != nil {
			logger.Debug("回应 ping", "peer", sess.RemotePeer().ShortString())
		}
	}
}

// Ping 在已协商的流上发送一次 ping，返回往返时间
func Ping(ctx context.Context, ch interfaces.Channel) (time.Duration, error) {
	req := make([]byte, PingSize)
	if _, err := rand.Read(req); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := ch.WriteContext(ctx, req); err != nil {
		return 0, err
	}
	resp := make([]byte, PingSize)
	if _, err := ch.ReadContext(ctx, resp, types.ReadFull); err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	if !bytes.Equal(req, resp) {
		return 0, ErrDataMismatch
	}
	return rtt, nil
}
