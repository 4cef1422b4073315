// Package channel 实现双工字节流原语 Channel
//
// Channel 总是成对创建：New 返回的端点与其 Reverse() 互为镜像，
// 一端写入的字节在另一端读出。每个方向由一个带缓冲的 half 承载：
//
//	  a.Write ──> [half a→b] ──> b.Read
//	  a.Read  <── [half b→a] <── b.Write
//
// 关闭状态由整对共享：任一端关闭都会传播到另一端，
// 关闭回调（OnClose）在整对上恰好触发一次。
//
// FromConn 通过两个泵协程把 io.ReadWriteCloser（如 net.Conn）桥接为 Channel。
package channel
