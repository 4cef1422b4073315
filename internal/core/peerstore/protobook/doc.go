// Package protobook 实现协议簿
//
// protobook 记录每个远端节点协商成功与被拒绝的应用协议，
// 主机据此重排 multistream 候选列表，减少 na 往返。
// 容量有限，按最近使用淘汰节点。
//
// # 使用示例
//
//	book, _ := protobook.New(1024)
//	book.SetSelected(peerID, "/chat/1.0.0")
//	candidates := book.Order(peerID, []types.ProtocolID{"/chat/2.0.0", "/chat/1.0.0"})
//	// -> [/chat/1.0.0 /chat/2.0.0]
package protobook
