// Package types 定义 go-p2pstack 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go     - PeerID, ProtocolID, StreamID
//   - enums.go   - Direction, ReadMode, SessionState, StreamState, WindowPolicy
//   - errors.go  - 公共错误定义（错误分类）
//
// # 错误分类
//
// 所有模块返回的错误都包装自 errors.go 中的哨兵错误，调用方通过 errors.Is 判断：
//
//	if errors.Is(err, types.ErrNotSupported) {
//	    // 对端拒绝了全部候选协议，可以换一个协议重试
//	}
package types
