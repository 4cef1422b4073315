package yamux

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              LocalWindow
// ============================================================================

// TestLocalWindow_Range 参数越界
func TestLocalWindow_Range(t *testing.T) {
	cases := []struct {
		initial, max int64
	}{
		{0, 10},
		{-1, 10},
		{10, 5},
		{1, math.MaxUint32 + 1},
	}
	for _, tc := range cases {
		_, err := NewLocalWindow(tc.initial, tc.max, types.WindowDynamic)
		assert.ErrorIs(t, err, types.ErrWindowRange, "initial=%d max=%d", tc.initial, tc.max)
	}

	w, err := NewLocalWindow(1, math.MaxUint32, types.WindowDynamic)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Available())
}

// TestLocalWindow_FixedExtend 消费过半后扩展一个初始窗口
func TestLocalWindow_FixedExtend(t *testing.T) {
	w, err := NewLocalWindow(1000, 1000, types.WindowFixed)
	require.NoError(t, err)

	require.True(t, w.TrySpend(600))
	assert.Equal(t, int64(400), w.Available())

	assert.Equal(t, uint32(1000), w.ExtendIfNeeded())
	assert.Equal(t, int64(1400), w.Available())

	// 剩余不低于一半时不扩展
	require.True(t, w.TrySpend(400))
	assert.Equal(t, uint32(0), w.ExtendIfNeeded())
	assert.Equal(t, int64(1000), w.Available())

	t.Log("✅ 固定窗口扩展测试通过")
}

// TestLocalWindow_TrySpendOverflow 超出剩余窗口时不修改状态
func TestLocalWindow_TrySpendOverflow(t *testing.T) {
	w, err := NewLocalWindow(100, 100, types.WindowFixed)
	require.NoError(t, err)

	assert.False(t, w.TrySpend(101))
	assert.Equal(t, int64(100), w.Available())

	assert.True(t, w.TrySpend(100))
	assert.False(t, w.TrySpend(1))
	assert.Equal(t, int64(0), w.Available())
}

// TestLocalWindow_DynamicGrowth 快速消费时窗口翻倍，不超过上限
func TestLocalWindow_DynamicGrowth(t *testing.T) {
	mock := clock.NewMock()
	w, err := NewLocalWindow(1000, 4000, types.WindowDynamic,
		WithClock(mock), WithGrowthInterval(time.Second))
	require.NoError(t, err)

	require.True(t, w.TrySpend(990))
	first := w.ExtendIfNeeded()
	assert.GreaterOrEqual(t, first, uint32(1000))
	assert.LessOrEqual(t, first, uint32(4000))
	assert.Equal(t, uint32(2000), first)

	// 10 + 2000 = 2010，消费到一半以下
	require.True(t, w.TrySpend(1100))
	assert.Equal(t, uint32(4000), w.ExtendIfNeeded())

	require.True(t, w.TrySpend(3000))
	assert.Equal(t, uint32(4000), w.ExtendIfNeeded(), "不超过最大窗口")
	assert.Equal(t, int64(4000), w.Size())
}

// TestLocalWindow_DynamicSlowReader 消费慢时窗口保持初始大小
func TestLocalWindow_DynamicSlowReader(t *testing.T) {
	mock := clock.NewMock()
	w, err := NewLocalWindow(1000, 4000, types.WindowDynamic,
		WithClock(mock), WithGrowthInterval(time.Second))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mock.Add(2 * time.Second)
		require.True(t, w.TrySpend(uint32(w.Available())))
		assert.Equal(t, uint32(1000), w.ExtendIfNeeded())
	}
	assert.Equal(t, int64(1000), w.Size())
}

// TestLocalWindow_FixedIgnoresMax 固定策略下大小不变
func TestLocalWindow_FixedIgnoresMax(t *testing.T) {
	mock := clock.NewMock()
	w, err := NewLocalWindow(1000, 8000, types.WindowFixed, WithClock(mock))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.True(t, w.TrySpend(uint32(w.Available())))
		assert.Equal(t, uint32(1000), w.ExtendIfNeeded())
	}
}

// ============================================================================
//                              RemoteWindow
// ============================================================================

// TestRemoteWindow_Updates 发送 B 字节所需的窗口更新次数与最终剩余窗口
//
// 只在仍有待发字节时补充窗口，所以 B > 0 时需要 ceil(B/W)-1 次更新。
// B mod W == 1 或 W == 1 时该值等于 ceil((B-1)/W)。
func TestRemoteWindow_Updates(t *testing.T) {
	cases := []struct {
		window, bytes int
	}{
		{10, 0},
		{10, 1},
		{10, 11},
		{10, 21},
		{10, 101},
		{1, 1},
		{1, 5},
		{256, 1025},
		// B = kW：最后一次消费恰好用尽窗口，不再需要更新
		{10, 10},
		{10, 30},
		{256, 1024},
		// B = kW+5
		{10, 15},
		{10, 35},
		{256, 1029},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("W=%d/B=%d", tc.window, tc.bytes), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			w := NewRemoteWindow(uint32(tc.window))
			updates, remaining := 0, tc.bytes
			for remaining > 0 {
				k, err := w.SpendOrWait(ctx, remaining)
				require.NoError(t, err)
				require.Positive(t, k)
				remaining -= k
				if remaining > 0 {
					// 窗口耗尽，接收方补充一个窗口
					w.Extend(uint32(tc.window))
					updates++
				}
			}

			expected := 0
			if tc.bytes > 0 {
				expected = int(math.Ceil(float64(tc.bytes)/float64(tc.window))) - 1
			}
			assert.Equal(t, expected, updates)
			if tc.bytes > 0 && (tc.bytes%tc.window == 1 || tc.window == 1) {
				assert.Equal(t, int(math.Ceil(float64(tc.bytes-1)/float64(tc.window))), updates)
			}
			assert.Equal(t, int64(tc.window-tc.bytes+tc.window*updates), w.Available())
		})
	}
}

// TestRemoteWindow_WaitForExtend 窗口为 0 时阻塞到更新
func TestRemoteWindow_WaitForExtend(t *testing.T) {
	w := NewRemoteWindow(0)

	got := make(chan int, 1)
	go func() {
		k, err := w.SpendOrWait(context.Background(), 100)
		assert.NoError(t, err)
		got <- k
	}()

	select {
	case <-got:
		t.Fatal("零窗口时不应返回")
	case <-time.After(20 * time.Millisecond):
	}

	w.Extend(30)
	select {
	case k := <-got:
		assert.Equal(t, 30, k)
	case <-time.After(time.Second):
		t.Fatal("窗口更新后未唤醒")
	}
}

// TestRemoteWindow_Cancel 取消与关闭
func TestRemoteWindow_Cancel(t *testing.T) {
	w := NewRemoteWindow(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.SpendOrWait(ctx, 1)
	assert.ErrorIs(t, err, types.ErrCancelled)

	done := make(chan error, 1)
	go func() {
		_, err := w.SpendOrWait(context.Background(), 1)
		done <- err
	}()
	w.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, types.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("关闭后未唤醒")
	}

	w.Extend(10)
	assert.Equal(t, int64(0), w.Available())
}

// TestRemoteWindow_Concurrent 多个发送者与更新者并发，总量守恒
func TestRemoteWindow_Concurrent(t *testing.T) {
	const (
		senders  = 8
		perSend  = 1000
		chunk    = 7
		increase = 64
	)
	w := NewRemoteWindow(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remaining := perSend
			for remaining > 0 {
				k, err := w.SpendOrWait(ctx, min(chunk, remaining))
				if !assert.NoError(t, err) {
					return
				}
				remaining -= k
			}
		}()
	}

	total := senders * perSend
	granted := 0
	for granted < total {
		w.Extend(increase)
		granted += increase
		time.Sleep(time.Microsecond)
	}

	wg.Wait()
	assert.Equal(t, int64(granted-total), w.Available())
}
