// Package transport 按地址前缀分发拨号与监听
//
// 地址格式为 "scheme://address"，具体传输在子包中实现：
//   - tcp: net.Dialer / net.Listener，连接经 channel.FromConn 桥接
//   - memory: 进程内监听表，连接即一对 Channel
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrInvalidAddr 地址格式错误
	ErrInvalidAddr = errors.New("transport: invalid address")

	// ErrNoTransport 没有匹配地址前缀的传输
	ErrNoTransport = errors.New("transport: no transport for scheme")

	// ErrDuplicateScheme 重复注册
	ErrDuplicateScheme = errors.New("transport: duplicate scheme")
)

// SplitAddr 拆分 "scheme://address"
func SplitAddr(addr string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok || scheme == "" || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}
	return scheme, rest, nil
}

// JoinAddr 拼接地址
func JoinAddr(scheme, rest string) string {
	return scheme + "://" + rest
}

// ============================================================================
//                              Set
// ============================================================================

// Set 按 scheme 索引的传输集合
type Set struct {
	mu         sync.RWMutex
	transports map[string]interfaces.Transport
}

// NewSet 创建传输集合
func NewSet(ts ...interfaces.Transport) (*Set, error) {
	s := &Set{transports: make(map[string]interfaces.Transport)}
	for _, t := range ts {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add 添加传输
func (s *Set) Add(t interfaces.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transports[t.Scheme()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateScheme, t.Scheme())
	}
	s.transports[t.Scheme()] = t
	return nil
}

// Lookup 按地址查找传输
func (s *Set) Lookup(addr string) (interfaces.Transport, error) {
	scheme, _, err := SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transports[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, scheme)
	}
	return t, nil
}

// Dial 拨号
func (s *Set) Dial(ctx context.Context, addr string) (interfaces.Channel, error) {
	t, err := s.Lookup(addr)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, addr)
}

// Listen 监听
func (s *Set) Listen(addr string) (interfaces.Listener, error) {
	t, err := s.Lookup(addr)
	if err != nil {
		return nil, err
	}
	return t.Listen(addr)
}

// Schemes 返回已注册的 scheme
func (s *Set) Schemes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.transports))
	for scheme := range s.transports {
		out = append(out, scheme)
	}
	return out
}
