package protocol

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

func noop() interfaces.ProtocolHandler {
	return interfaces.ProtocolHandlerFunc(func(context.Context, interfaces.Channel, interfaces.SessionContext) error {
		return nil
	})
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("/b/1.0.0", noop()))
	require.NoError(t, r.Register("/a/1.0.0", noop()))
	assert.ErrorIs(t, r.Register("/a/1.0.0", noop()), ErrDuplicateProtocol)
	assert.ErrorIs(t, r.Register("/c/1.0.0", nil), ErrNilHandler)
	assert.Error(t, r.Register("", noop()))

	assert.Equal(t, []types.ProtocolID{"/a/1.0.0", "/b/1.0.0"}, r.Protocols())
	assert.True(t, r.Supports("/a/1.0.0"))

	require.NoError(t, r.Unregister("/a/1.0.0"))
	assert.ErrorIs(t, r.Unregister("/a/1.0.0"), ErrProtocolNotRegistered)
	_, ok := r.Handler("/a/1.0.0")
	assert.False(t, ok)

	t.Log("✅ 注册表测试通过")
}

func TestRegistry_Matcher(t *testing.T) {
	r := NewRegistry()
	prefix := func(id types.ProtocolID) bool { return strings.HasPrefix(string(id), "/kv/") }
	require.NoError(t, r.AddMatcher("/kv", prefix, noop()))

	assert.True(t, r.Supports("/kv/2.0.0"))
	assert.False(t, r.Supports("/other"))
	assert.Empty(t, r.Protocols())

	r.RemoveMatcher("/kv")
	assert.False(t, r.Supports("/kv/2.0.0"))
	assert.ErrorIs(t, r.AddMatcher("/x", nil, noop()), ErrNilHandler)
}
