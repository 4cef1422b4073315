// Package interfaces 定义 go-p2pstack 公共接口
//
// 接口按连接升级管线的层次组织：
//
//	Transport ──> Channel ──(multistream)──> SecureTransport ──> SecureChannel
//	          ──(multistream)──> StreamMuxer ──> MuxedConn ──> MuxedStream
//	          ──(multistream)──> ProtocolHandler
//
// 每一层只依赖 Channel 的"读字节 / 写字节 / 感知关闭"语义，
// 与其下方是什么无关。
package interfaces
