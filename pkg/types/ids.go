package types

import "strings"

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点标识符
//
// 由安全层根据远端公钥派生（base58 编码），空字符串表示未知。
type PeerID string

// String 返回节点 ID 字符串
func (p PeerID) String() string {
	return string(p)
}

// ShortString 返回用于日志显示的短 ID
func (p PeerID) ShortString() string {
	if len(p) <= 8 {
		return string(p)
	}
	return string(p[:8])
}

// IsEmpty 检查是否为空
func (p PeerID) IsEmpty() bool {
	return p == ""
}

// Validate 验证节点 ID
func (p PeerID) Validate() error {
	if p == "" {
		return ErrEmptyPeerID
	}
	return nil
}

// ============================================================================
//                              ProtocolID - 协议标识
// ============================================================================

// ProtocolID 协议标识符
//
// 格式: /name/version，如 /multistream/1.0.0。
// 仅作为协商令牌使用，不携带类型信息。
type ProtocolID string

// String 返回协议ID字符串
func (p ProtocolID) String() string {
	return string(p)
}

// Validate 验证协议 ID
//
// 协议 ID 不能为空，不能包含换行符（multistream 以行为单位传输）。
func (p ProtocolID) Validate() error {
	if p == "" {
		return ErrEmptyProtocolID
	}
	if strings.ContainsAny(string(p), "\r\n") {
		return ErrInvalidProtocolID
	}
	return nil
}

// ProtocolIDs 将字符串列表转换为协议 ID 列表
func ProtocolIDs(ids ...string) []ProtocolID {
	out := make([]ProtocolID, len(ids))
	for i, id := range ids {
		out[i] = ProtocolID(id)
	}
	return out
}

// ============================================================================
//                              StreamID - 流标识
// ============================================================================

// StreamID 多路复用流标识
//
// 在一个物理连接内唯一。发起方（客户端）使用奇数，响应方（服务端）使用偶数，
// 0 保留给会话本身（ping / go-away）。
type StreamID uint32

// IsSession 是否为会话级 ID
func (id StreamID) IsSession() bool {
	return id == 0
}

// IsClientInitiated 是否由客户端发起
func (id StreamID) IsClientInitiated() bool {
	return id%2 == 1
}
