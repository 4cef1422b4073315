package tls

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              netConn 适配器
// ============================================================================

// netConn 将 interfaces.Channel 适配为 net.Conn，供 crypto/tls 使用
type netConn struct {
	ch interfaces.Channel

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*netConn)(nil)

func newNetConn(ch interfaces.Channel) *netConn {
	return &netConn{ch: ch}
}

func (c *netConn) Read(b []byte) (int, error) {
	ctx, cancel := c.deadlineContext(&c.readDeadline)
	defer cancel()
	n, err := c.ch.ReadContext(ctx, b, types.ReadAny)
	return n, deadlineError(err)
}

func (c *netConn) Write(b []byte) (int, error) {
	ctx, cancel := c.deadlineContext(&c.writeDeadline)
	defer cancel()
	n, err := c.ch.WriteContext(ctx, b)
	return n, deadlineError(err)
}

func (c *netConn) Close() error {
	return c.ch.Close()
}

func (c *netConn) LocalAddr() net.Addr {
	return channelAddr(c.ch.ID())
}

func (c *netConn) RemoteAddr() net.Addr {
	return channelAddr(c.ch.Reverse().ID())
}

func (c *netConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.mu.Unlock()
	return nil
}

func (c *netConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *netConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

// deadlineContext 按调用时刻的截止时间生成 context，零值表示不限
func (c *netConn) deadlineContext(d *time.Time) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	deadline := *d
	c.mu.Unlock()
	if deadline.IsZero() {
		return context.Background(), func() {}
	}
	return context.WithDeadline(context.Background(), deadline)
}

// deadlineError 截止时间到期时返回 os.ErrDeadlineExceeded，与 net.Conn 约定一致
func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return os.ErrDeadlineExceeded
	}
	return err
}

// channelAddr 以 Channel 标识作为地址
type channelAddr string

func (a channelAddr) Network() string { return "channel" }
func (a channelAddr) String() string  { return string(a) }
