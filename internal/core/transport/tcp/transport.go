// Package tcp 提供基于 TCP 的传输层实现
//
// TCP 不提供多路复用，连接经 channel.FromConn 桥接为 Channel 后交给升级器。
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/internal/core/transport"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
)

var logger = log.Logger("core/transport/tcp")

// Scheme 地址前缀
const Scheme = "tcp"

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("tcp: transport closed")

// Transport TCP 传输
type Transport struct {
	dialTimeout time.Duration
	bufferLimit int
	keepAlive   time.Duration

	closed atomic.Bool
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建 TCP 传输，bufferLimit 为每个连接的读缓冲上限
func New(dialTimeout time.Duration, bufferLimit int) *Transport {
	return &Transport{
		dialTimeout: dialTimeout,
		bufferLimit: bufferLimit,
		keepAlive:   30 * time.Second,
	}
}

// Scheme 返回地址前缀
func (t *Transport) Scheme() string {
	return Scheme
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, addr string) (interfaces.Channel, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	hostport, err := parse(addr)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: t.dialTimeout, KeepAlive: t.keepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	logger.Debug("TCP 拨号成功", "addr", addr, "local", conn.LocalAddr().String())
	return t.wrap(conn), nil
}

// Listen 监听入站连接
func (t *Transport) Listen(addr string) (interfaces.Listener, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	hostport, err := parse(addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{KeepAlive: t.keepAlive}
	l, err := lc.Listen(context.Background(), "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	logger.Info("TCP 监听", "addr", l.Addr().String())
	return &Listener{listener: l, t: t}, nil
}

// Close 关闭传输，已建立的连接不受影响
func (t *Transport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *Transport) wrap(conn net.Conn) interfaces.Channel {
	var opts []channel.Option
	if t.bufferLimit > 0 {
		opts = append(opts, channel.WithBufferLimit(t.bufferLimit))
	}
	return channel.FromConn(conn, opts...)
}

// parse 校验并去掉 scheme
func parse(addr string) (string, error) {
	scheme, hostport, err := transport.SplitAddr(addr)
	if err != nil {
		return "", err
	}
	if scheme != Scheme {
		return "", fmt.Errorf("%w: scheme %q", transport.ErrInvalidAddr, scheme)
	}
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		return "", fmt.Errorf("%w: %w", transport.ErrInvalidAddr, err)
	}
	return hostport, nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener TCP 监听器
type Listener struct {
	listener net.Listener
	t        *Transport
	closed   atomic.Bool
}

var _ interfaces.Listener = (*Listener)(nil)

// Accept 接受连接，ctx 取消时返回
func (l *Listener) Accept(ctx context.Context) (interfaces.Channel, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if tc, ok := r.conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		return l.t.wrap(r.conn), nil
	case <-ctx.Done():
		// 晚到的连接直接关闭
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Addr 返回实际监听地址
func (l *Listener) Addr() string {
	return transport.JoinAddr(Scheme, l.listener.Addr().String())
}

// Close 关闭监听器
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.listener.Close()
}
