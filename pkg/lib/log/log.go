// Package log 提供 go-p2pstack 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，每个组件持有一个 LazyLogger：
//
//	var logger = log.Logger("core/muxer")
//	logger.Debug("打开流", "streamID", id)
//
// 需要接入 zap 时调用 SetZap，所有组件日志都会经 zap 输出。
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// 当前根 logger，LazyLogger 每次调用时读取
var root atomic.Pointer[slog.Logger]

func init() {
	root.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// SetDefault 设置根 logger
func SetDefault(l *slog.Logger) {
	if l == nil {
		return
	}
	root.Store(l)
}

// Default 返回根 logger
func Default() *slog.Logger {
	return root.Load()
}

// New 创建文本格式 logger
func New(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSON 创建 JSON 格式 logger
func NewJSON(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetOutputWithLevel 同时设置日志输出目标和级别
//
// 示例：
//
//	file, _ := os.OpenFile("node.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutputWithLevel(file, slog.LevelDebug)
func SetOutputWithLevel(w io.Writer, level slog.Level) {
	SetDefault(New(w, &slog.HandlerOptions{Level: level}))
}

// SetZap 将所有组件日志路由到 zap
func SetZap(z *zap.Logger) {
	if z == nil {
		return
	}
	SetDefault(slog.New(NewZapHandler(z)))
}

// Discard 丢弃所有日志，测试中使用
func Discard() {
	SetDefault(slog.New(NewZapHandler(zap.NewNop())))
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从根 logger 获取最新的 handler，
// 支持在运行时切换输出目标。
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return Default().With("component", l.component)
}

// Component 返回组件名
func (l *LazyLogger) Component() string {
	return l.component
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.base().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.base().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.base().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.base().Error(msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base().DebugContext(ctx, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.base().WarnContext(ctx, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

// ============================================================================
//                              工具函数
// ============================================================================

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
