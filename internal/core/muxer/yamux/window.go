package yamux

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              LocalWindow - 接收窗口
// ============================================================================

// LocalWindow 本端接收窗口
//
// available 表示对端还能发送而不越界的字节数。消费后由 ExtendIfNeeded
// 决定是否向对端发送窗口更新：剩余不足当前大小一半时扩展一个 size。
// 动态策略下，两次扩展间隔小于 growthInterval 说明读得快，size 翻倍，
// 但不超过 max 且不低于 initial。
type LocalWindow struct {
	mu sync.Mutex

	initial   int64
	max       int64
	size      int64
	available int64

	policy         types.WindowPolicy
	growthInterval time.Duration
	clock          clock.Clock
	lastExtend     time.Time
}

// WindowOption 窗口选项
type WindowOption func(*LocalWindow)

// WithClock 设置时钟，测试中使用 clock.NewMock()
func WithClock(c clock.Clock) WindowOption {
	return func(w *LocalWindow) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithGrowthInterval 设置动态策略的增长判定间隔
func WithGrowthInterval(d time.Duration) WindowOption {
	return func(w *LocalWindow) {
		if d > 0 {
			w.growthInterval = d
		}
	}
}

// NewLocalWindow 创建接收窗口
//
// 要求 0 < initial <= max <= MaxUint32，否则返回 types.ErrWindowRange。
func NewLocalWindow(initial, max int64, policy types.WindowPolicy, opts ...WindowOption) (*LocalWindow, error) {
	if initial <= 0 || max < initial || max > math.MaxUint32 {
		return nil, fmt.Errorf("%w: initial=%d max=%d", types.ErrWindowRange, initial, max)
	}
	if policy == types.WindowFixed {
		max = initial
	}
	w := &LocalWindow{
		initial:        initial,
		max:            max,
		size:           initial,
		available:      initial,
		policy:         policy,
		growthInterval: time.Second,
		clock:          clock.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lastExtend = w.clock.Now()
	return w, nil
}

// TrySpend 消费 n 字节，超出剩余窗口时返回 false 且不修改状态
func (w *LocalWindow) TrySpend(n uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if int64(n) > w.available {
		return false
	}
	w.available -= int64(n)
	return true
}

// ExtendIfNeeded 剩余不足一半时扩展窗口，返回应通告给对端的增量，0 表示无需更新
func (w *LocalWindow) ExtendIfNeeded() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.available >= w.size/2 {
		return 0
	}

	now := w.clock.Now()
	if w.policy == types.WindowDynamic && now.Sub(w.lastExtend) < w.growthInterval {
		w.size = min(w.size*2, w.max)
	}
	w.lastExtend = now
	w.available += w.size
	return uint32(w.size)
}

// Available 返回剩余窗口
func (w *LocalWindow) Available() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

// Size 返回当前窗口大小
func (w *LocalWindow) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// ============================================================================
//                              RemoteWindow - 发送窗口
// ============================================================================

// RemoteWindow 对端通告的发送窗口
//
// 初始为 0，SYN/ACK 的窗口更新通告对端完整的初始窗口。
type RemoteWindow struct {
	mu        sync.Mutex
	available int64
	closed    bool

	notify chan struct{}
	done   chan struct{}
}

// NewRemoteWindow 创建发送窗口
func NewRemoteWindow(initial uint32) *RemoteWindow {
	return &RemoteWindow{
		available: int64(initial),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SpendOrWait 消费至多 n 字节的窗口，窗口为 0 时等待更新
//
// 返回实际消费的字节数，可能小于 n。窗口关闭返回 types.ErrClosed。
func (w *RemoteWindow) SpendOrWait(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return 0, types.ErrClosed
		}
		if w.available > 0 {
			k := min(int64(n), w.available)
			w.available -= k
			if w.available > 0 {
				w.signal()
			}
			w.mu.Unlock()
			return int(k), nil
		}
		w.mu.Unlock()

		select {
		case <-w.notify:
		case <-w.done:
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
		}
	}
}

// Extend 增加窗口并唤醒等待者，关闭后忽略
func (w *RemoteWindow) Extend(delta uint32) {
	if delta == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.available += int64(delta)
	w.signal()
}

// Available 返回剩余发送窗口
func (w *RemoteWindow) Available() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

// Close 关闭窗口，唤醒所有等待者
func (w *RemoteWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.done)
}

func (w *RemoteWindow) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}
