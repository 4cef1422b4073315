// Package ping 实现存活检测协议
//
// # 协议 ID
//
//	/ipfs/ping/1.0.0
//
// # 消息格式
//
// 请求和响应都是 32 字节的随机数据，响应必须与请求相同。
// 同一条流上可以连续 ping，发起方半关闭后服务端退出。
//
// # 使用示例
//
//	ch, _, err := sess.OpenStream(ctx, protocolids.Ping)
//	rtt, err := ping.Ping(ctx, ch)
package ping
