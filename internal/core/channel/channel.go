package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              half - 单向缓冲
// ============================================================================

// half 承载一个方向的字节
type half struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int   // 未读字节上限，0 表示不限
	eof   bool  // 写方向已关闭
	err   error // 中止错误，设置后丢弃缓冲

	readable chan struct{}
	writable chan struct{}
}

func newHalf(limit int) *half {
	return &half{
		limit:    limit,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// finish 关闭写方向，err 非空时中止并丢弃缓冲
func (h *half) finish(err error) {
	h.mu.Lock()
	h.eof = true
	if err != nil && h.err == nil {
		h.err = err
		h.buf.Reset()
	}
	notify(h.readable)
	notify(h.writable)
	h.mu.Unlock()
}

func (h *half) finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eof
}

// ============================================================================
//                              pair - 共享关闭状态
// ============================================================================

type pair struct {
	id     string
	halves [2]*half

	mu        sync.Mutex
	closed    bool
	notified  bool // 关闭回调已全部执行
	done      chan struct{}
	callbacks []func()
}

// shutdown 关闭整对，err 为空时为优雅关闭
func (p *pair) shutdown(err error) {
	for _, h := range p.halves {
		h.finish(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	// 执行期间注册的回调追加到队尾，保持注册顺序
	for {
		p.mu.Lock()
		if len(p.callbacks) == 0 {
			p.notified = true
			p.callbacks = nil
			p.mu.Unlock()
			return
		}
		fn := p.callbacks[0]
		p.callbacks = p.callbacks[1:]
		p.mu.Unlock()
		fn()
	}
}

// ============================================================================
//                              Channel
// ============================================================================

// Channel 双工字节流端点
type Channel struct {
	p    *pair
	side int
	in   *half
	out  *half
	peer *Channel

	observer atomic.Pointer[func(int)]
}

var _ interfaces.Channel = (*Channel)(nil)

// Option 配置选项
type Option func(*options)

type options struct {
	limit     int
	sendLimit int
}

// WithBufferLimit 设置两个方向的未读字节上限，超出后写方阻塞
func WithBufferLimit(n int) Option {
	return func(o *options) {
		o.limit = n
		o.sendLimit = n
	}
}

// WithSendLimit 只限制 New 返回端点的写方向
func WithSendLimit(n int) Option {
	return func(o *options) {
		o.sendLimit = n
	}
}

// New 创建一对 Channel，返回其中一端，另一端通过 Reverse 获取
func New(opts ...Option) *Channel {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &pair{
		id:     uuid.NewString(),
		halves: [2]*half{newHalf(o.sendLimit), newHalf(o.limit)},
		done:   make(chan struct{}),
	}
	a := &Channel{p: p, side: 0, out: p.halves[0], in: p.halves[1]}
	b := &Channel{p: p, side: 1, out: p.halves[1], in: p.halves[0]}
	a.peer, b.peer = b, a
	return a
}

// ID 返回 Channel 标识
func (c *Channel) ID() string {
	if c.side == 0 {
		return c.p.id
	}
	return c.p.id + "~r"
}

// Reverse 返回配对端点
func (c *Channel) Reverse() interfaces.Channel {
	return c.peer
}

// Peer 返回配对端点的具体类型
func (c *Channel) Peer() *Channel {
	return c.peer
}

// SetReadObserver 设置读取观察者，每次读出 n>0 字节后在读者协程中调用
func (c *Channel) SetReadObserver(fn func(n int)) {
	if fn == nil {
		c.observer.Store(nil)
		return
	}
	c.observer.Store(&fn)
}

// Buffered 返回本端尚未读取的字节数
func (c *Channel) Buffered() int {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()
	return c.in.buf.Len()
}

// Read 实现 io.Reader
func (c *Channel) Read(p []byte) (int, error) {
	return c.ReadContext(context.Background(), p, types.ReadAny)
}

// ReadContext 按指定模式读取
func (c *Channel) ReadContext(ctx context.Context, p []byte, mode types.ReadMode) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	h := c.in
	n := 0
	for {
		h.mu.Lock()
		if h.err != nil {
			h.mu.Unlock()
			return n, h.err
		}
		if h.buf.Len() > 0 {
			k, _ := h.buf.Read(p[n:])
			n += k
			notify(h.writable)
			h.mu.Unlock()

			if fn := c.observer.Load(); fn != nil {
				(*fn)(k)
			}
			if mode == types.ReadAny || n == len(p) {
				return n, nil
			}
			continue
		}
		if h.eof {
			h.mu.Unlock()
			return n, io.EOF
		}
		h.mu.Unlock()

		select {
		case <-h.readable:
		case <-c.p.done:
		case <-ctx.Done():
			return n, cancelled(ctx)
		}
	}
}

// Write 实现 io.Writer
func (c *Channel) Write(p []byte) (int, error) {
	return c.WriteContext(context.Background(), p)
}

// WriteContext 写入字节，缓冲达到上限时阻塞
func (c *Channel) WriteContext(ctx context.Context, p []byte) (int, error) {
	h := c.out
	n := 0
	for {
		h.mu.Lock()
		if h.err != nil {
			h.mu.Unlock()
			return n, h.err
		}
		if h.eof {
			h.mu.Unlock()
			return n, types.ErrClosed
		}
		if n == len(p) {
			h.mu.Unlock()
			return n, nil
		}

		room := len(p) - n
		if h.limit > 0 {
			room = min(room, h.limit-h.buf.Len())
		}
		if room > 0 {
			h.buf.Write(p[n : n+room])
			n += room
			notify(h.readable)
			h.mu.Unlock()
			continue
		}
		h.mu.Unlock()

		select {
		case <-h.writable:
		case <-c.p.done:
		case <-ctx.Done():
			return n, cancelled(ctx)
		}
	}
}

// Close 优雅关闭整对，缓冲数据仍可读出
func (c *Channel) Close() error {
	c.p.shutdown(nil)
	return nil
}

// CloseWrite 半关闭本端写方向，两个方向都关闭后整对关闭
func (c *Channel) CloseWrite() error {
	c.out.finish(nil)
	if c.in.finished() {
		c.p.shutdown(nil)
	}
	return nil
}

// Reset 中止关闭
func (c *Channel) Reset() error {
	return c.CloseWithError(types.ErrClosed)
}

// CloseWithError 以指定错误中止关闭，后续读写都返回该错误
func (c *Channel) CloseWithError(err error) error {
	if err == nil {
		err = types.ErrClosed
	}
	c.p.shutdown(err)
	return nil
}

// OnClose 注册关闭回调，按注册顺序执行
//
// 回调执行完毕后注册的回调立即在调用方协程执行。
func (c *Channel) OnClose(fn func()) {
	if fn == nil {
		return
	}
	c.p.mu.Lock()
	if c.p.notified {
		c.p.mu.Unlock()
		fn()
		return
	}
	c.p.callbacks = append(c.p.callbacks, fn)
	c.p.mu.Unlock()
}

// Done 返回关闭信号
func (c *Channel) Done() <-chan struct{} {
	return c.p.done
}

// Err 返回中止错误，未关闭或优雅关闭时为 nil
func (c *Channel) Err() error {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()
	return c.in.err
}

// IsClosed 是否已关闭
func (c *Channel) IsClosed() bool {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.p.closed
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
}
