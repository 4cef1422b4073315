package types

// ============================================================================
//                              会话事件
// ============================================================================

// EvtSessionReady 会话升级完成，可以打开流
type EvtSessionReady struct {
	SessionID string
	Peer      PeerID
	Direction Direction
	Security  ProtocolID
	Muxer     ProtocolID
}

// EvtSessionClosed 会话已断开
//
// Err 为断开原因，本地主动断开时为 ErrConnectionClosed。
type EvtSessionClosed struct {
	SessionID string
	Peer      PeerID
	Direction Direction
	Err       error
}

// EvtProtocolsUpdated 本地协议处理器变更
type EvtProtocolsUpdated struct {
	Added   []ProtocolID
	Removed []ProtocolID
}
