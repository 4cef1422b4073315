package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-p2pstack/pkg/lib/log"
)

var logger = log.Logger("core/eventbus")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrClosed 总线或发射器已关闭
	ErrClosed = errors.New("eventbus: closed")

	// ErrInvalidEventType 事件类型为空
	ErrInvalidEventType = errors.New("eventbus: invalid event type")

	// ErrNonPointerType 事件类型不是指针
	ErrNonPointerType = errors.New("eventbus: event type must be a pointer")

	// ErrWrongType 发射的事件与发射器类型不符
	ErrWrongType = errors.New("eventbus: event has wrong type")
)

// ============================================================================
//                              Bus
// ============================================================================

// Bus 事件总线
type Bus struct {
	mu     sync.RWMutex
	closed bool
	nodes  map[reflect.Type]*node
}

// node 单个事件类型的订阅者与发射器
type node struct {
	mu        sync.Mutex
	typ       reflect.Type
	sinks     []*Subscription
	emitters  atomic.Int32
	keepLast  bool
	last      any
	dropCount atomic.Int64
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{nodes: make(map[reflect.Type]*node)}
}

// Subscribe 订阅 eventType（指针）所指类型的事件
func (b *Bus) Subscribe(eventType any, opts ...SubscriptionOpt) (*Subscription, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}
	settings := subscriptionSettings{buffer: DefaultBufSize}
	for _, opt := range opts {
		opt(&settings)
	}

	sub := &Subscription{
		bus: b,
		typ: typ,
		out: make(chan any, settings.buffer),
	}
	err = b.withNode(typ, func(n *node) {
		n.sinks = append(n.sinks, sub)
		if n.keepLast && n.last != nil {
			sub.out <- n.last
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Emitter 返回 eventType（指针）所指类型的发射器
func (b *Bus) Emitter(eventType any, opts ...EmitterOpt) (*Emitter, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}
	var settings emitterSettings
	for _, opt := range opts {
		opt(&settings)
	}

	var n *node
	err = b.withNode(typ, func(nd *node) {
		n = nd
		n.emitters.Add(1)
		if settings.stateful {
			n.keepLast = true
		}
	})
	if err != nil {
		return nil, err
	}
	return &Emitter{bus: b, node: n}, nil
}

// EventTypes 返回当前有订阅者或发射器的事件类型
func (b *Bus) EventTypes() []reflect.Type {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]reflect.Type, 0, len(b.nodes))
	for typ := range b.nodes {
		out = append(out, typ)
	}
	return out
}

// Dropped 返回某类型事件累计丢弃数
func (b *Bus) Dropped(eventType any) int64 {
	typ, err := elemType(eventType)
	if err != nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n, ok := b.nodes[typ]; ok {
		return n.dropCount.Load()
	}
	return 0
}

// Close 关闭总线及全部订阅，之后的 Subscribe / Emitter 返回 ErrClosed
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*Subscription
	for _, n := range b.nodes {
		n.mu.Lock()
		subs = append(subs, n.sinks...)
		n.mu.Unlock()
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func elemType(eventType any) (reflect.Type, error) {
	if eventType == nil {
		return nil, ErrInvalidEventType
	}
	typ := reflect.TypeOf(eventType)
	if typ.Kind() != reflect.Pointer {
		return nil, ErrNonPointerType
	}
	return typ.Elem(), nil
}

// withNode 在类型节点锁内执行 cb
func (b *Bus) withNode(typ reflect.Type, cb func(*node)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	n, ok := b.nodes[typ]
	if !ok {
		n = &node{typ: typ}
		b.nodes[typ] = n
	}
	n.mu.Lock()
	b.mu.Unlock()

	cb(n)
	n.mu.Unlock()
	return nil
}

// tryDropNode 无订阅者且无发射器时删除节点
func (b *Bus) tryDropNode(typ reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[typ]
	if !ok {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sinks) > 0 || n.emitters.Load() > 0 || n.keepLast {
		return
	}
	delete(b.nodes, typ)
}

// removeSub 从节点移除订阅，返回后不会再有事件写入 sub.out
func (b *Bus) removeSub(sub *Subscription) {
	b.mu.RLock()
	n, ok := b.nodes[sub.typ]
	b.mu.RUnlock()
	if !ok {
		return
	}

	n.mu.Lock()
	for i, s := range n.sinks {
		if s == sub {
			n.sinks = append(n.sinks[:i], n.sinks[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	b.tryDropNode(sub.typ)
}

// emit 非阻塞地投递给全部订阅者
func (n *node) emit(event any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.keepLast {
		n.last = event
	}
	for _, sub := range n.sinks {
		select {
		case sub.out <- event:
		default:
			// 每丢弃 100 个事件警告一次
			if dropped := n.dropCount.Add(1); dropped%100 == 1 {
				logger.Warn("慢消费者，事件已丢弃", "type", n.typ.String(), "dropped", dropped)
			}
		}
	}
}
