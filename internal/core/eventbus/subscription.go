package eventbus

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// ============================================================================
//                              Subscription
// ============================================================================

// Subscription 订阅
type Subscription struct {
	bus       *Bus
	typ       reflect.Type
	out       chan any
	closeOnce sync.Once
}

// Out 事件通道，Close 后关闭
func (s *Subscription) Out() <-chan any {
	return s.out
}

// Close 取消订阅，可重复调用
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.removeSub(s)
		close(s.out)
	})
	return nil
}

// ============================================================================
//                              Emitter
// ============================================================================

// Emitter 事件发射器
type Emitter struct {
	bus       *Bus
	node      *node
	closed    atomic.Bool
	closeOnce sync.Once
}

// Emit 发射事件，事件类型必须与发射器一致
func (e *Emitter) Emit(event any) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if reflect.TypeOf(event) != e.node.typ {
		return fmt.Errorf("%w: %T, want %s", ErrWrongType, event, e.node.typ)
	}
	e.node.emit(event)
	return nil
}

// Close 关闭发射器
func (e *Emitter) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.node.emitters.Add(-1) == 0 {
			e.bus.tryDropNode(e.node.typ)
		}
	})
	return nil
}
