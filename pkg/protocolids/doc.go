// Package protocolids 定义 go-p2pstack 使用的协议 ID 注册表。
//
// 所有模块、测试、示例在需要协议 ID 时引用本包中的常量，
// 不在其他位置定义字面量。
//
// # 协议分层
//
//   - 协商协议: /multistream/1.0.0
//   - 安全协议: /plaintext/2.0.0, /noise, /tls/1.0.0
//   - 多路复用协议: /yamux/1.0.0
//   - 应用协议: /ipfs/ping/1.0.0, /echo/1.0.0
package protocolids
