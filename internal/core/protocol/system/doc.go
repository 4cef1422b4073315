// Package system 汇总内置应用协议
//
//   - ping: /ipfs/ping/1.0.0，32 字节回显，测量 RTT
//   - echo: /echo/1.0.0，原样回写直到对端半关闭
package system
