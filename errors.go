package p2pstack

import "errors"

// 公共错误定义
var (
	// ErrHostClosed 主机已关闭
	ErrHostClosed = errors.New("host closed")

	// ErrDialFailed 拨号失败（已用尽重试）
	ErrDialFailed = errors.New("dial failed")

	// ErrPeerNotConnected 没有到该节点的会话
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrNoTransport 配置中未启用任何传输
	ErrNoTransport = errors.New("no transport enabled")
)
