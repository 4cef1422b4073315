// Package types 定义 go-p2pstack 的基础类型
//
// 本文件定义所有公共错误类型。
package types

import "errors"

// ============================================================================
//                              ID 相关错误
// ============================================================================

var (
	// ErrEmptyPeerID 空节点 ID
	ErrEmptyPeerID = errors.New("empty peer ID")

	// ErrEmptyProtocolID 空协议 ID
	ErrEmptyProtocolID = errors.New("empty protocol ID")

	// ErrInvalidProtocolID 无效的协议 ID
	ErrInvalidProtocolID = errors.New("invalid protocol ID")

	// ErrInvalidWindowPolicy 无效的窗口策略
	ErrInvalidWindowPolicy = errors.New("invalid window policy")
)

// ============================================================================
//                              错误分类
// ============================================================================
//
// 可恢复（不拆除会话）：ErrClosed、ErrNotSupported、ErrCancelled
// 仅重置单个流：ErrProtocolViolation
// 拆除整个会话：ErrConnectionFatal

var (
	// ErrClosed 在已关闭的 Channel / 流上操作
	ErrClosed = errors.New("channel closed")

	// ErrNegotiationFailed 协商失败（无共同协议或握手格式错误）
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrNotSupported 对端拒绝了全部候选协议
	ErrNotSupported = errors.New("protocol not supported")

	// ErrProtocolViolation 帧算术错误、窗口下溢或流状态不允许的帧
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrConnectionFatal 物理连接损坏或断开
	ErrConnectionFatal = errors.New("connection fatal")

	// ErrCancelled 调用方取消
	ErrCancelled = errors.New("operation cancelled")
)

// ============================================================================
//                              连接 / 流相关错误
// ============================================================================

var (
	// ErrConnectionClosed 会话已拆除
	ErrConnectionClosed = errors.New("connection closed")

	// ErrStreamReset 流已重置
	ErrStreamReset = errors.New("stream reset")

	// ErrMaxStreamsReached 达到最大流数
	ErrMaxStreamsReached = errors.New("max streams reached")

	// ErrWindowRange 窗口参数越界
	ErrWindowRange = errors.New("window size out of range")
)
