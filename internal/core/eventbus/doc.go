// Package eventbus 实现进程内事件总线
//
// 事件按 Go 类型分发。订阅与发射都以指针类型声明事件：
//
//	sub, _ := bus.Subscribe(new(types.EvtSessionReady))
//	em, _ := bus.Emitter(new(types.EvtSessionReady), eventbus.Stateful())
//	_ = em.Emit(types.EvtSessionReady{...})
//
// 发射不阻塞：订阅者缓冲区满时事件被丢弃并计数。
// 有状态发射器保留最后一个事件，新订阅者立即收到。
package eventbus
