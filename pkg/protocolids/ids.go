package protocolids

import "github.com/dep2p/go-p2pstack/pkg/types"

// ============================================================================
//                              协商协议
// ============================================================================

// Multistream multistream-select 协商头
const Multistream types.ProtocolID = "/multistream/1.0.0"

// NotAvailable 拒绝提议时返回的令牌
const NotAvailable = "na"

// ============================================================================
//                              安全协议
// ============================================================================

// Plaintext 明文协议，仅交换公钥，不加密
const Plaintext types.ProtocolID = "/plaintext/2.0.0"

// Noise Noise XX 握手协议
const Noise types.ProtocolID = "/noise"

// TLS TLS 1.3 握手协议
const TLS types.ProtocolID = "/tls/1.0.0"

// ============================================================================
//                              多路复用协议
// ============================================================================

// Yamux yamux 多路复用协议
const Yamux types.ProtocolID = "/yamux/1.0.0"

// ============================================================================
//                              应用协议
// ============================================================================

// Ping Ping 协议，用于存活检测和延迟测量
const Ping types.ProtocolID = "/ipfs/ping/1.0.0"

// Echo Echo 协议，用于基础连接测试
const Echo types.ProtocolID = "/echo/1.0.0"

// ============================================================================
//                              查询
// ============================================================================

// Security 返回全部安全协议，按默认优先级排序
func Security() []types.ProtocolID {
	return []types.ProtocolID{Noise, TLS, Plaintext}
}

// Application 返回内置应用协议
func Application() []types.ProtocolID {
	return []types.ProtocolID{Ping, Echo}
}

// IsSecurity 是否为安全协议
func IsSecurity(id types.ProtocolID) bool {
	return id == Noise || id == TLS || id == Plaintext
}
