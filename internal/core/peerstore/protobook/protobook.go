package protobook

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ErrInvalidSize 容量非法
var ErrInvalidSize = errors.New("protobook: size must be positive")

// entry 单个节点的协议记录
type entry struct {
	selected    types.ProtocolID
	supported   []types.ProtocolID
	unsupported map[types.ProtocolID]struct{}
}

// ProtoBook 协议簿
type ProtoBook struct {
	mu    sync.Mutex
	cache *lru.Cache[types.PeerID, *entry]
}

// New 创建协议簿，size 为记录的节点数上限
func New(size int) (*ProtoBook, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	cache, err := lru.New[types.PeerID, *entry](size)
	if err != nil {
		return nil, err
	}
	return &ProtoBook{cache: cache}, nil
}

func (pb *ProtoBook) entry(peer types.PeerID) *entry {
	e, ok := pb.cache.Get(peer)
	if !ok {
		e = &entry{unsupported: make(map[types.ProtocolID]struct{})}
		pb.cache.Add(peer, e)
	}
	return e
}

// AddProtocols 记录节点支持的协议
func (pb *ProtoBook) AddProtocols(peer types.PeerID, protocols ...types.ProtocolID) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	e := pb.entry(peer)
	for _, p := range protocols {
		delete(e.unsupported, p)
		if !contains(e.supported, p) {
			e.supported = append(e.supported, p)
		}
	}
}

// SetSelected 记录最近一次协商成功的协议
func (pb *ProtoBook) SetSelected(peer types.PeerID, proto types.ProtocolID) {
	pb.AddProtocols(peer, proto)
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.entry(peer).selected = proto
}

// MarkUnsupported 记录节点拒绝的协议
func (pb *ProtoBook) MarkUnsupported(peer types.PeerID, protocols ...types.ProtocolID) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	e := pb.entry(peer)
	for _, p := range protocols {
		e.unsupported[p] = struct{}{}
		e.supported = remove(e.supported, p)
		if e.selected == p {
			e.selected = ""
		}
	}
}

// GetProtocols 返回节点支持的协议副本
func (pb *ProtoBook) GetProtocols(peer types.PeerID) []types.ProtocolID {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	e, ok := pb.cache.Get(peer)
	if !ok {
		return nil
	}
	return append([]types.ProtocolID(nil), e.supported...)
}

// SupportsProtocols 返回 protocols 中已知受支持的部分
func (pb *ProtoBook) SupportsProtocols(peer types.PeerID, protocols ...types.ProtocolID) []types.ProtocolID {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	e, ok := pb.cache.Get(peer)
	if !ok {
		return nil
	}
	var out []types.ProtocolID
	for _, p := range protocols {
		if contains(e.supported, p) {
			out = append(out, p)
		}
	}
	return out
}

// Order 重排候选协议
//
// 最近选中的协议排在最前，其次是已知支持的，再次是未知的，
// 已知被拒绝的排在最后。同一档内保持调用方的顺序。
func (pb *ProtoBook) Order(peer types.PeerID, candidates []types.ProtocolID) []types.ProtocolID {
	pb.mu.Lock()
	e, ok := pb.cache.Get(peer)
	if !ok {
		pb.mu.Unlock()
		return append([]types.ProtocolID(nil), candidates...)
	}
	var first, known, unknown, rejected []types.ProtocolID
	for _, c := range candidates {
		switch {
		case c == e.selected:
			first = append(first, c)
		case contains(e.supported, c):
			known = append(known, c)
		default:
			if _, bad := e.unsupported[c]; bad {
				rejected = append(rejected, c)
			} else {
				unknown = append(unknown, c)
			}
		}
	}
	pb.mu.Unlock()

	out := make([]types.ProtocolID, 0, len(candidates))
	out = append(out, first...)
	out = append(out, known...)
	out = append(out, unknown...)
	return append(out, rejected...)
}

// RemovePeer 删除节点记录
func (pb *ProtoBook) RemovePeer(peer types.PeerID) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.cache.Remove(peer)
}

// Peers 返回有记录的节点，按最久未使用到最近使用排序
func (pb *ProtoBook) Peers() []types.PeerID {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.cache.Keys()
}

func contains(list []types.ProtocolID, p types.ProtocolID) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}

func remove(list []types.ProtocolID, p types.ProtocolID) []types.ProtocolID {
	for i, x := range list {
		if x == p {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
