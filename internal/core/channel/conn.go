package channel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/channel")

const pumpBufferSize = 32 * 1024

// closeWriter 支持半关闭的连接（如 *net.TCPConn）
type closeWriter interface {
	CloseWrite() error
}

// FromConn 把 io.ReadWriteCloser 桥接为 Channel
//
// 返回的端点由调用方使用，配对端点由两个泵协程持有：
// 入站泵把 conn 读到的字节写入 Channel，出站泵把 Channel 写出的字节写入 conn。
// 整对关闭且出站泵排空后关闭 conn。
func FromConn(conn io.ReadWriteCloser, opts ...Option) *Channel {
	local := New(opts...)
	remote := local.peer

	var g errgroup.Group
	flushed := make(chan struct{})

	g.Go(func() error {
		defer close(flushed)
		return pumpOut(conn, remote)
	})
	g.Go(func() error {
		return pumpIn(conn, remote)
	})

	go func() {
		<-remote.Done()
		<-flushed
		_ = conn.Close()
	}()

	go func() {
		if err := g.Wait(); err != nil {
			logger.Debug("连接泵退出", "channel", local.ID(), "err", err)
		}
	}()

	return local
}

// pumpOut 把 Channel 写出的字节写入 conn
func pumpOut(conn io.ReadWriteCloser, ch *Channel) error {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := ch.ReadContext(context.Background(), buf, types.ReadAny)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				fail(ch, werr)
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			if cw, ok := conn.(closeWriter); ok {
				_ = cw.CloseWrite()
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pumpIn 把 conn 读到的字节写入 Channel
func pumpIn(conn io.ReadWriteCloser, ch *Channel) error {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := ch.WriteContext(context.Background(), buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return ch.CloseWrite()
		}
		if err != nil {
			fail(ch, err)
			return err
		}
	}
}

// fail 底层连接出错时中止 Channel，已关闭的 Channel 不受影响
func fail(ch *Channel, err error) {
	if ch.IsClosed() {
		return
	}
	_ = ch.CloseWithError(fmt.Errorf("%w: %w", types.ErrConnectionFatal, err))
}
