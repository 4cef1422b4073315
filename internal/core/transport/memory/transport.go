// Package memory 提供进程内传输
//
// 监听地址注册在 Network 中，拨号即创建一对 Channel，
// 一端返回给拨号方，另一端投递给监听器。主要用于测试与单进程多节点。
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/internal/core/transport"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
)

var logger = log.Logger("core/transport/memory")

// Scheme 地址前缀
const Scheme = "memory"

var (
	// ErrAddrInUse 地址已被监听
	ErrAddrInUse = errors.New("memory: address in use")

	// ErrConnRefused 地址无监听器
	ErrConnRefused = errors.New("memory: connection refused")

	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("memory: listener closed")
)

// ============================================================================
//                              Network
// ============================================================================

// Network 进程内监听表
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

// NewNetwork 创建独立的监听表
func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*Listener)}
}

var defaultNetwork = NewNetwork()

// DefaultNetwork 返回进程级监听表
func DefaultNetwork() *Network {
	return defaultNetwork
}

func (n *Network) register(name string, l *Listener) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[name]; ok {
		return fmt.Errorf("%w: %s", ErrAddrInUse, name)
	}
	n.listeners[name] = l
	return nil
}

func (n *Network) unregister(name string, l *Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners[name] == l {
		delete(n.listeners, name)
	}
}

func (n *Network) lookup(name string) *Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listeners[name]
}

// ============================================================================
//                              Transport
// ============================================================================

// Transport 内存传输
type Transport struct {
	network     *Network
	bufferLimit int
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建内存传输，network 为 nil 时使用进程级监听表
func New(network *Network, bufferLimit int) *Transport {
	if network == nil {
		network = defaultNetwork
	}
	return &Transport{network: network, bufferLimit: bufferLimit}
}

// Scheme 返回地址前缀
func (t *Transport) Scheme() string {
	return Scheme
}

// Dial 连接到同一 Network 中的监听器
func (t *Transport) Dial(ctx context.Context, addr string) (interfaces.Channel, error) {
	name, err := parse(addr)
	if err != nil {
		return nil, err
	}
	l := t.network.lookup(name)
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnRefused, addr)
	}

	var opts []channel.Option
	if t.bufferLimit > 0 {
		opts = append(opts, channel.WithBufferLimit(t.bufferLimit))
	}
	local := channel.New(opts...)
	remote := local.Peer()

	select {
	case l.incoming <- remote:
		logger.Debug("内存连接建立", "addr", addr, "channel", local.ID())
		return local, nil
	case <-l.done:
		return nil, fmt.Errorf("%w: %s", ErrConnRefused, addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Listen 在 name 上监听
func (t *Transport) Listen(addr string) (interfaces.Listener, error) {
	name, err := parse(addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		name:     name,
		network:  t.network,
		incoming: make(chan *channel.Channel),
		done:     make(chan struct{}),
	}
	if err := t.network.register(name, l); err != nil {
		return nil, err
	}
	return l, nil
}

func parse(addr string) (string, error) {
	scheme, name, err := transport.SplitAddr(addr)
	if err != nil {
		return "", err
	}
	if scheme != Scheme {
		return "", fmt.Errorf("%w: scheme %q", transport.ErrInvalidAddr, scheme)
	}
	return name, nil
}

// ============================================================================
//                              Listener
// ============================================================================

// Listener 内存监听器
type Listener struct {
	name     string
	network  *Network
	incoming chan *channel.Channel

	closeOnce sync.Once
	done      chan struct{}
}

var _ interfaces.Listener = (*Listener)(nil)

// Accept 接受连接
func (l *Listener) Accept(ctx context.Context) (interfaces.Channel, error) {
	select {
	case ch := <-l.incoming:
		return ch, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr 返回监听地址
func (l *Listener) Addr() string {
	return transport.JoinAddr(Scheme, l.name)
}

// Close 关闭监听器并释放地址
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.network.unregister(l.name, l)
	})
	return nil
}
