package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withRoot(t *testing.T, l *slog.Logger) {
	t.Helper()
	prev := Default()
	SetDefault(l)
	t.Cleanup(func() { SetDefault(prev) })
}

// TestLazyLogger_Component 组件名作为属性输出
func TestLazyLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	withRoot(t, New(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	Logger("core/muxer").Debug("打开流", "streamID", 3)

	out := buf.String()
	assert.Contains(t, out, "component=core/muxer")
	assert.Contains(t, out, "streamID=3")
}

// TestLazyLogger_FollowsRoot 切换根 logger 后立即生效
func TestLazyLogger_FollowsRoot(t *testing.T) {
	l := Logger("test")

	var first, second bytes.Buffer
	withRoot(t, New(&first, nil))
	l.Info("一")
	SetDefault(New(&second, nil))
	l.Info("二")

	assert.Contains(t, first.String(), "一")
	assert.NotContains(t, first.String(), "二")
	assert.Contains(t, second.String(), "二")
}

// TestZapHandler_Fields slog 属性转换为 zap 字段
func TestZapHandler_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	withRoot(t, slog.New(NewZapHandler(zap.New(core))))

	Logger("core/session").With("session", "abc").Warn("断开失败",
		"err", errors.New("boom"),
		"rtt", 5*time.Millisecond,
		slog.Group("peer", "id", "QmPeer"),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "断开失败", entry.Message)

	ctx := entry.ContextMap()
	assert.Equal(t, "core/session", ctx["component"])
	assert.Equal(t, "abc", ctx["session"])
	assert.Equal(t, "boom", ctx["err"])
	assert.Equal(t, 5*time.Millisecond, ctx["rtt"])
	assert.Equal(t, "QmPeer", ctx["peer.id"])
}

// TestZapHandler_Level zap 级别过滤生效
func TestZapHandler_Level(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewZapHandler(zap.New(core))
	l := slog.New(h)

	l.Debug("不输出")
	l.Info("输出")

	assert.Equal(t, 1, logs.Len())
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

// TestZapHandler_WithGroup 分组前缀
func TestZapHandler_WithGroup(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := slog.New(NewZapHandler(zap.New(core))).WithGroup("muxer")

	l.Info("窗口更新", "delta", 1024)

	require.Equal(t, 1, logs.Len())
	assert.EqualValues(t, 1024, logs.All()[0].ContextMap()["muxer.delta"])
}

// TestTruncateID 截取 ID
func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "12345678", TruncateID("1234567890", 8))
}
