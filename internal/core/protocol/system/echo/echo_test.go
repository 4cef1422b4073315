package echo

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
)

func TestEcho_RoundTrip(t *testing.T) {
	ch := channel.New()
	done := make(chan error, 1)
	go func() {
		done <- NewService().Handle(context.Background(), ch.Reverse(), nil)
	}()

	got, err := Echo(context.Background(), ch, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = ch.Write([]byte(" world"))
	require.NoError(t, err)
	require.NoError(t, ch.CloseWrite())

	rest, err := io.ReadAll(ch)
	require.NoError(t, err)
	assert.Equal(t, " world", string(rest))
	require.NoError(t, <-done)

	t.Log("✅ Echo 测试通过")
}

func TestEcho_Reset(t *testing.T) {
	ch := channel.New()
	done := make(chan error, 1)
	go func() {
		done <- NewService().Handle(context.Background(), ch.Reverse(), nil)
	}()
	require.NoError(t, ch.Reset())
	assert.Error(t, <-done)
}
