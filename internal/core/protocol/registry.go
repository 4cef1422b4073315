// Package protocol 提供应用协议处理器注册表
//
// 会话的接受循环用注册表回答 multistream 提议：
// 先精确匹配，再按注册顺序尝试模式匹配器。
package protocol

import (
	"errors"
	"sort"
	"sync"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrProtocolNotRegistered 协议未注册
	ErrProtocolNotRegistered = errors.New("protocol: protocol not registered")

	// ErrDuplicateProtocol 协议已注册
	ErrDuplicateProtocol = errors.New("protocol: protocol already registered")

	// ErrNilHandler 处理器为空
	ErrNilHandler = errors.New("protocol: nil handler")
)

// ============================================================================
//                              Registry
// ============================================================================

// Registry 协议注册表
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.ProtocolID]interfaces.ProtocolHandler
	matchers []matcher
}

// matcher 模式匹配器
type matcher struct {
	protocol types.ProtocolID
	match    func(types.ProtocolID) bool
	handler  interfaces.ProtocolHandler
}

var _ interfaces.ProtocolRegistry = (*Registry)(nil)

// NewRegistry 创建协议注册表
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[types.ProtocolID]interfaces.ProtocolHandler),
	}
}

// Register 注册协议处理器
func (r *Registry) Register(id types.ProtocolID, handler interfaces.ProtocolHandler) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return ErrDuplicateProtocol
	}
	r.handlers[id] = handler
	return nil
}

// Unregister 注销协议处理器
func (r *Registry) Unregister(id types.ProtocolID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; !exists {
		return ErrProtocolNotRegistered
	}
	delete(r.handlers, id)
	return nil
}

// Handler 获取协议处理器
func (r *Registry) Handler(id types.ProtocolID) (interfaces.ProtocolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[id]; ok {
		return h, true
	}
	for _, m := range r.matchers {
		if m.match(id) {
			return m.handler, true
		}
	}
	return nil, false
}

// Supports 是否能处理 id，供协商器的接受方使用
func (r *Registry) Supports(id types.ProtocolID) bool {
	_, ok := r.Handler(id)
	return ok
}

// Protocols 返回精确注册的协议，按字典序
func (r *Registry) Protocols() []types.ProtocolID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ProtocolID, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddMatcher 添加模式匹配器，protocol 作为移除时的键
func (r *Registry) AddMatcher(protocol types.ProtocolID, match func(types.ProtocolID) bool, handler interfaces.ProtocolHandler) error {
	if match == nil || handler == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, matcher{protocol: protocol, match: match, handler: handler})
	return nil
}

// RemoveMatcher 移除模式匹配器
func (r *Registry) RemoveMatcher(protocol types.ProtocolID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.matchers {
		if m.protocol == protocol {
			r.matchers = append(r.matchers[:i], r.matchers[i+1:]...)
			return
		}
	}
}
