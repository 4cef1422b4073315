// Package upgrader 实现连接升级管线
//
// # 升级流程
//
//  1. 安全协议协商（multistream-select）
//     - 发起方按优先级提议：[/noise, /plaintext/2.0.0]
//  2. 安全握手，得到远端 PeerID
//  3. 多路复用器协商（multistream-select）
//     - 发起方提议：[/yamux/1.0.0]
//  4. 在安全 Channel 上创建 yamux 连接
//
// 每一步都可以单独调用（UpgradeSecurity / UpgradeMuxer），
// Upgrade 把它们串成一个 session.Session 的状态机。
//
// # 使用示例
//
//	u, err := upgrader.New(id.PeerID(), upgrader.Config{
//	    SecurityTransports: []interfaces.SecureTransport{noiseTransport},
//	    StreamMuxers:       []interfaces.StreamMuxer{yamux.DefaultTransport()},
//	})
//
//	sess, err := u.Upgrade(ctx, raw, types.DirOutbound, remotePeer)
//	ch, proto, err := sess.OpenStream(ctx, protocolids.Echo)
package upgrader
