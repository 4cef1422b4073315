package memory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/internal/core/transport"
)

// TestMemory_DialAccept 拨号与接受得到配对的 Channel
func TestMemory_DialAccept(t *testing.T) {
	tr := New(NewNetwork(), 0)
	l, err := tr.Listen("memory://node-a")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "memory://node-a", l.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		ch, err := l.Accept(ctx)
		if err != nil {
			accepted <- err
			return
		}
		_, err = io.Copy(ch, ch)
		_ = ch.Close()
		accepted <- err
	}()

	c, err := tr.Dial(ctx, "memory://node-a")
	require.NoError(t, err)
	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	got, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
	require.NoError(t, <-accepted)

	t.Log("✅ 内存传输测试通过")
}

// TestMemory_Errors 地址冲突、拒绝连接与非法地址
func TestMemory_Errors(t *testing.T) {
	tr := New(NewNetwork(), 0)
	l, err := tr.Listen("memory://x")
	require.NoError(t, err)

	_, err = tr.Listen("memory://x")
	assert.ErrorIs(t, err, ErrAddrInUse)

	_, err = tr.Dial(context.Background(), "memory://y")
	assert.ErrorIs(t, err, ErrConnRefused)

	_, err = tr.Listen("tcp://x")
	assert.ErrorIs(t, err, transport.ErrInvalidAddr)

	require.NoError(t, l.Close())
	_, err = l.Accept(context.Background())
	assert.ErrorIs(t, err, ErrListenerClosed)
	_, err = tr.Dial(context.Background(), "memory://x")
	assert.ErrorIs(t, err, ErrConnRefused)

	// 关闭后地址可重用
	l2, err := tr.Listen("memory://x")
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

// TestMemory_DialCancel 无人 Accept 时拨号随 ctx 返回
func TestMemory_DialCancel(t *testing.T) {
	tr := New(NewNetwork(), 0)
	l, err := tr.Listen("memory://slow")
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Dial(ctx, "memory://slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
