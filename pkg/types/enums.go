package types

// ============================================================================
//                              Direction - 连接方向
// ============================================================================

// Direction 连接方向
type Direction int

const (
	// DirUnknown 未知方向
	DirUnknown Direction = iota
	// DirInbound 入站连接（接受方 / 服务端）
	DirInbound
	// DirOutbound 出站连接（发起方 / 客户端）
	DirOutbound
)

// String 返回方向的字符串表示
func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// IsInitiator 是否为发起方
func (d Direction) IsInitiator() bool {
	return d == DirOutbound
}

// ============================================================================
//                              ReadMode - 读取模式
// ============================================================================

// ReadMode Channel 读取模式
type ReadMode int

const (
	// ReadAny 至少有一个字节可读时返回
	ReadAny ReadMode = iota
	// ReadFull 读满请求长度或遇到流结束时返回
	ReadFull
)

// String 返回读取模式的字符串表示
func (m ReadMode) String() string {
	switch m {
	case ReadAny:
		return "any"
	case ReadFull:
		return "full"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              SessionState - 会话状态
// ============================================================================

// SessionState 会话状态
//
// 状态机：Connecting -> SecurityNegotiated -> MultiplexerNegotiated -> Ready -> Disconnected。
// 任何阶段失败都直接进入 Disconnected。
type SessionState int

const (
	// SessionConnecting 物理连接已建立，尚未协商任何层
	SessionConnecting SessionState = iota
	// SessionSecurityNegotiated 安全层已建立
	SessionSecurityNegotiated
	// SessionMultiplexerNegotiated 多路复用器已建立
	SessionMultiplexerNegotiated
	// SessionReady 可以打开/接受流
	SessionReady
	// SessionDisconnected 已断开（终态）
	SessionDisconnected
)

// String 返回会话状态的字符串表示
func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionSecurityNegotiated:
		return "security-negotiated"
	case SessionMultiplexerNegotiated:
		return "multiplexer-negotiated"
	case SessionReady:
		return "ready"
	case SessionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              StreamState - 流状态
// ============================================================================

// StreamState 多路复用流状态
//
// Idle -> Open -> {LocalClosed | RemoteClosed} -> Closed，或 Open -> Reset。
type StreamState int

const (
	// StreamIdle 已分配 ID，尚未确认
	StreamIdle StreamState = iota
	// StreamOpen 双向可用
	StreamOpen
	// StreamLocalClosed 本端已发送 FIN
	StreamLocalClosed
	// StreamRemoteClosed 对端已发送 FIN
	StreamRemoteClosed
	// StreamClosed 双向均已关闭（终态）
	StreamClosed
	// StreamReset 已重置（终态）
	StreamReset
)

// String 返回流状态的字符串表示
func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamLocalClosed:
		return "local-closed"
	case StreamRemoteClosed:
		return "remote-closed"
	case StreamClosed:
		return "closed"
	case StreamReset:
		return "reset"
	default:
		return "unknown"
	}
}

// IsTerminal 是否为终态
func (s StreamState) IsTerminal() bool {
	return s == StreamClosed || s == StreamReset
}

// ============================================================================
//                              WindowPolicy - 窗口增长策略
// ============================================================================

// WindowPolicy 接收窗口增长策略
type WindowPolicy int

const (
	// WindowFixed 每次按初始大小扩展
	WindowFixed WindowPolicy = iota
	// WindowDynamic 根据消费速度增长，上限为最大窗口
	WindowDynamic
)

// String 返回窗口策略的字符串表示
func (p WindowPolicy) String() string {
	switch p {
	case WindowFixed:
		return "fixed"
	case WindowDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ParseWindowPolicy 解析窗口策略
func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch s {
	case "fixed", "":
		return WindowFixed, nil
	case "dynamic":
		return WindowDynamic, nil
	default:
		return WindowFixed, ErrInvalidWindowPolicy
	}
}
