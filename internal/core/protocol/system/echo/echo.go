// Package echo 实现回显协议
//
// 服务端把读到的字节原样写回，直到对端半关闭，然后半关闭自己的写方向。
package echo

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("protocol/echo")

const bufferSize = 4 * 1024

// Service Echo 服务端
type Service struct{}

var _ interfaces.ProtocolHandler = (*Service)(nil)

// NewService 创建 Echo 服务
func NewService() *Service {
	return &Service{}
}

// Handle 回显直到 EOF
func (s *Service) Handle(ctx context.Context, ch interfaces.Channel, _ interfaces.SessionContext) error {
	n, err := copyContext(ctx, ch, ch)
	logger.Debug("echo 结束", "channel", ch.ID(), "bytes", n, "err", err)
	if err != nil {
		return err
	}
	return ch.CloseWrite()
}

// Echo 发送 msg 并读回同样长度的字节
func Echo(ctx context.Context, ch interfaces.Channel, msg []byte) ([]byte, error) {
	if _, err := ch.WriteContext(ctx, msg); err != nil {
		return nil, err
	}
	out := make([]byte, len(msg))
	if _, err := ch.ReadContext(ctx, out, types.ReadFull); err != nil {
		return nil, err
	}
	return out, nil
}

func copyContext(ctx context.Context, dst, src interfaces.Channel) (int64, error) {
	buf := make([]byte, bufferSize)
	var total int64
	for {
		n, err := src.ReadContext(ctx, buf, types.ReadAny)
		if n > 0 {
			if _, werr := dst.WriteContext(ctx, buf[:n]); werr != nil {
				return total, fmt.Errorf("echo write: %w", werr)
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("echo read: %w", err)
		}
	}
}
