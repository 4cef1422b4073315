// Package p2pstack 提供传输无关、安全、多路复用的点对点连接
//
// # 快速开始
//
//	cfg := config.NewConfig()
//	cfg.Transport = cfg.Transport.WithListenAddrs("tcp://127.0.0.1:4001")
//
//	h, err := p2pstack.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	if err := h.Start(); err != nil {
//	    return err
//	}
//
//	sess, err := h.Dial(ctx, "tcp://127.0.0.1:4002", remotePeer)
//	ch, proto, err := h.NewStream(ctx, remotePeer, protocolids.Echo)
//
// # 升级管线
//
// 每条物理连接依次经过：
//
//  1. 传输层：tcp:// 或 memory:// 地址，得到原始 Channel
//  2. 安全层：multistream 协商 /noise 或 /plaintext/2.0.0，握手得到远端 PeerID
//  3. 多路复用层：multistream 协商 /yamux/1.0.0
//  4. 会话就绪：逻辑流上再用 multistream 协商应用协议
//
// 入站流按 SetHandler 注册的处理器分发，内置 ping 与 echo。
package p2pstack
