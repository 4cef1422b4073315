// Package yamux 实现 yamux 风格的流多路复用
//
// 一个物理 Channel 之上承载多条带独立流控的逻辑流。每个会话有一个读循环
// 负责解帧和分发，一个写循环负责把有界队列中的帧串行写出。
package yamux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/lib/log"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

var logger = log.Logger("core/muxer")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrStreamsExhausted 流 ID 用尽
	ErrStreamsExhausted = errors.New("yamux: stream IDs exhausted")

	// ErrRemoteGoAway 对端已发送 GoAway
	ErrRemoteGoAway = errors.New("yamux: remote sent go away")

	// ErrKeepAliveTimeout 保活超时
	ErrKeepAliveTimeout = errors.New("yamux: keep alive timeout")
)

// ============================================================================
//                              Muxer
// ============================================================================

// Muxer 多路复用会话，实现 interfaces.MuxedConn
type Muxer struct {
	cfg      Config
	conn     interfaces.Channel
	isServer bool
	clock    clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	sendCh   chan outFrame
	acceptCh chan *Stream
	sem      *semaphore.Weighted

	mu           sync.Mutex
	streams      map[types.StreamID]*Stream
	nextID       uint32
	remoteGoAway bool

	pingMu sync.Mutex
	pings  map[uint32]chan struct{}
	pingID uint32

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

var _ interfaces.MuxedConn = (*Muxer)(nil)

// outFrame 写队列元素，sent 非空时写出后关闭
type outFrame struct {
	buf  []byte
	sent chan struct{}
}

// NewMuxer 在物理 Channel 上创建会话
//
// isServer 决定流 ID 奇偶：客户端使用奇数，服务端使用偶数。
func NewMuxer(conn interfaces.Channel, isServer bool, cfg Config) (*Muxer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Muxer{
		cfg:      cfg,
		conn:     conn,
		isServer: isServer,
		clock:    cfg.clock(),
		ctx:      ctx,
		cancel:   cancel,
		sendCh:   make(chan outFrame, cfg.WriteQueueSize),
		acceptCh: make(chan *Stream, cfg.AcceptBacklog),
		sem:      semaphore.NewWeighted(int64(cfg.MaxStreams)),
		streams:  make(map[types.StreamID]*Stream),
		pings:    make(map[uint32]chan struct{}),
		done:     make(chan struct{}),
	}
	if isServer {
		m.nextID = 2
	} else {
		m.nextID = 1
	}

	go m.recvLoop()
	go m.sendLoop()
	if cfg.EnableKeepAlive {
		go m.keepalive()
	}

	logger.Debug("多路复用会话已创建", "conn", conn.ID(), "server", isServer)
	return m, nil
}

// ============================================================================
//                              流操作
// ============================================================================

// OpenStream 打开出站流
//
// 流处于 Idle 状态直到对端 ACK，但可立即写入；数据在获得发送窗口后发出。
func (m *Muxer) OpenStream(ctx context.Context) (interfaces.MuxedStream, error) {
	if m.IsClosed() {
		return nil, m.closedErr()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCancelled, err)
	}

	m.mu.Lock()
	if m.remoteGoAway {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", types.ErrConnectionClosed, ErrRemoteGoAway)
	}
	if m.nextID > math.MaxUint32-2 {
		m.mu.Unlock()
		return nil, ErrStreamsExhausted
	}
	if !m.sem.TryAcquire(1) {
		m.mu.Unlock()
		return nil, types.ErrMaxStreamsReached
	}
	id := types.StreamID(m.nextID)
	m.nextID += 2

	s, err := newStream(m, id, types.DirOutbound, types.StreamIdle)
	if err != nil {
		m.sem.Release(1)
		m.mu.Unlock()
		return nil, err
	}
	m.streams[id] = s
	m.mu.Unlock()

	m.cfg.Metrics.StreamOpened(types.DirOutbound)
	if err := m.send(ctx, windowUpdateFrame(id, flagSYN, m.cfg.InitialWindow)); err != nil {
		s.abort(err)
		return nil, err
	}
	go s.sendLoop()

	logger.Debug("打开出站流", "stream", id)
	return s, nil
}

// AcceptStream 接受入站流
func (m *Muxer) AcceptStream(ctx context.Context) (interfaces.MuxedStream, error) {
	select {
	case s := <-m.acceptCh:
		return s, nil
	case <-m.done:
		return nil, m.closedErr()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
	}
}

// NumStreams 返回活跃流数量
func (m *Muxer) NumStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *Muxer) stream(id types.StreamID) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

func (m *Muxer) removeStream(id types.StreamID) {
	m.mu.Lock()
	if _, ok := m.streams[id]; ok {
		delete(m.streams, id)
		m.sem.Release(1)
	}
	m.mu.Unlock()
}

// ============================================================================
//                              写循环
// ============================================================================

// send 将帧放入写队列，队列满时阻塞
func (m *Muxer) send(ctx context.Context, buf []byte) error {
	return m.enqueue(ctx, outFrame{buf: buf})
}

func (m *Muxer) enqueue(ctx context.Context, f outFrame) error {
	if m.IsClosed() {
		return m.closedErr()
	}
	select {
	case m.sendCh <- f:
		return nil
	case <-m.done:
		return m.closedErr()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
	}
}

func (m *Muxer) sendLoop() {
	for {
		select {
		case f := <-m.sendCh:
			if _, err := m.conn.WriteContext(m.ctx, f.buf); err != nil {
				m.shutdown(fmt.Errorf("%w: write: %w", types.ErrConnectionFatal, err))
				return
			}
			if f.sent != nil {
				close(f.sent)
			}
		case <-m.done:
			return
		}
	}
}

// ============================================================================
//                              读循环
// ============================================================================

func (m *Muxer) recvLoop() {
	buf := make([]byte, headerSize)
	for {
		if _, err := m.conn.ReadContext(m.ctx, buf, types.ReadFull); err != nil {
			m.readFailed(err)
			return
		}
		if err := m.handleFrame(decodeHeader(buf)); err != nil {
			logger.Warn("多路复用会话致命错误", "conn", m.conn.ID(), "err", err)
			m.goAway(goAwayProtoErr)
			m.shutdown(err)
			return
		}
	}
}

func (m *Muxer) readFailed(err error) {
	if m.IsClosed() {
		return
	}
	m.mu.Lock()
	goneAway := m.remoteGoAway
	m.mu.Unlock()

	if goneAway && errors.Is(err, io.EOF) {
		m.shutdown(types.ErrConnectionClosed)
		return
	}
	m.shutdown(fmt.Errorf("%w: read: %w", types.ErrConnectionFatal, err))
}

// handleFrame 分发一帧，返回的错误都是致命错误
func (m *Muxer) handleFrame(h header) error {
	if h.Version != protoVersion {
		return fmt.Errorf("%w: unsupported version %d", types.ErrConnectionFatal, h.Version)
	}

	switch h.Type {
	case typeData, typeWindowUpdate:
		if h.StreamID.IsSession() {
			return fmt.Errorf("%w: %s frame on session stream", types.ErrConnectionFatal, h.Type)
		}
		if h.Type == typeData && h.Length > m.cfg.maxFrameLen() {
			return fmt.Errorf("%w: frame length %d exceeds %d", types.ErrConnectionFatal, h.Length, m.cfg.maxFrameLen())
		}
		return m.handleStreamFrame(h)

	case typePing, typeGoAway:
		if !h.StreamID.IsSession() {
			m.violation(h.StreamID, h)
			return nil
		}
		if h.Type == typePing {
			m.handlePing(h)
		} else {
			m.handleGoAway(h)
		}
		return nil

	default:
		if h.StreamID.IsSession() {
			return fmt.Errorf("%w: unknown frame type %d", types.ErrConnectionFatal, h.Type)
		}
		if h.Length > m.cfg.maxFrameLen() {
			return fmt.Errorf("%w: frame length %d exceeds %d", types.ErrConnectionFatal, h.Length, m.cfg.maxFrameLen())
		}
		if err := m.discard(h.Length); err != nil {
			return err
		}
		m.violation(h.StreamID, h)
		return nil
	}
}

func (m *Muxer) handleStreamFrame(h header) error {
	if h.has(flagSYN) {
		if !m.acceptSYN(h) {
			if h.Type == typeData {
				return m.discard(h.Length)
			}
			return nil
		}
	}

	s := m.stream(h.StreamID)
	if s == nil {
		// 已移除或从未存在的流：窗口更新忽略，数据丢弃
		if h.Type == typeData {
			return m.discard(h.Length)
		}
		return nil
	}

	if h.has(flagACK) {
		s.ack()
	}

	if h.Type == typeWindowUpdate {
		s.sendWindow.Extend(h.Length)
	} else if h.Length > 0 {
		payload := make([]byte, h.Length)
		if _, err := m.conn.ReadContext(m.ctx, payload, types.ReadFull); err != nil {
			return fmt.Errorf("%w: read payload: %w", types.ErrConnectionFatal, err)
		}
		s.receive(payload)
	}

	if h.has(flagFIN) {
		s.remoteFIN()
	}
	if h.has(flagRST) {
		s.remoteRST()
	}
	return nil
}

// acceptSYN 处理对端新建流，拒绝时回 RST
func (m *Muxer) acceptSYN(h header) bool {
	id := h.StreamID
	reject := func(reason string) bool {
		logger.Debug("拒绝入站流", "stream", id, "reason", reason)
		_ = m.send(m.ctx, windowUpdateFrame(id, flagRST, 0))
		return false
	}

	// 服务端只接受奇数 ID，客户端只接受偶数 ID
	if id.IsClientInitiated() != m.isServer {
		return reject("wrong parity")
	}

	m.mu.Lock()
	if existing, ok := m.streams[id]; ok {
		m.mu.Unlock()
		existing.reset(types.ErrProtocolViolation, true)
		return false
	}
	if !m.sem.TryAcquire(1) {
		m.mu.Unlock()
		return reject("max streams")
	}
	s, err := newStream(m, id, types.DirInbound, types.StreamOpen)
	if err != nil {
		m.sem.Release(1)
		m.mu.Unlock()
		return reject(err.Error())
	}
	m.streams[id] = s
	m.mu.Unlock()

	m.cfg.Metrics.StreamOpened(types.DirInbound)
	if err := m.send(m.ctx, windowUpdateFrame(id, flagACK, m.cfg.InitialWindow)); err != nil {
		s.abort(err)
		return false
	}

	select {
	case m.acceptCh <- s:
	default:
		s.reset(types.ErrMaxStreamsReached, true)
		logger.Warn("入站流积压已满", "stream", id)
		return false
	}
	go s.sendLoop()
	return true
}

// violation 单个流上的协议错误，只重置该流
func (m *Muxer) violation(id types.StreamID, h header) {
	logger.Debug("流协议错误", "stream", id, "frame", h.String())
	if s := m.stream(id); s != nil {
		s.reset(types.ErrProtocolViolation, true)
		return
	}
	_ = m.send(m.ctx, windowUpdateFrame(id, flagRST, 0))
}

// discard 丢弃 n 字节负载
func (m *Muxer) discard(n uint32) error {
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, readerFunc(func(p []byte) (int, error) {
		return m.conn.ReadContext(m.ctx, p, types.ReadAny)
	}), int64(n)); err != nil {
		return fmt.Errorf("%w: discard payload: %w", types.ErrConnectionFatal, err)
	}
	return nil
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func (m *Muxer) handleGoAway(h header) {
	m.mu.Lock()
	m.remoteGoAway = true
	m.mu.Unlock()

	if h.Length != goAwayNormal {
		logger.Warn("对端异常退出", "conn", m.conn.ID(), "code", h.Length)
		return
	}
	logger.Debug("对端已发送 GoAway", "conn", m.conn.ID())
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 发送 GoAway 并拆除会话，所有流以 ErrConnectionClosed 中止
func (m *Muxer) Close() error {
	if m.IsClosed() {
		return nil
	}
	m.goAway(goAwayNormal)
	m.shutdown(types.ErrConnectionClosed)
	return nil
}

// goAway 发送 GoAway 并在 CloseTimeout 内等待写出
func (m *Muxer) goAway(code uint32) {
	f := outFrame{buf: goAwayFrame(code), sent: make(chan struct{})}

	timeout := m.cfg.CloseTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := m.enqueue(ctx, f); err != nil {
		return
	}
	select {
	case <-f.sent:
	case <-m.done:
	case <-ctx.Done():
	}
}

// shutdown 拆除会话，只执行一次
func (m *Muxer) shutdown(err error) {
	m.closeOnce.Do(func() {
		m.err = err
		m.closed.Store(true)
		close(m.done)

		m.mu.Lock()
		streams := make([]*Stream, 0, len(m.streams))
		for _, s := range m.streams {
			streams = append(streams, s)
		}
		m.mu.Unlock()

		for _, s := range streams {
			s.abort(err)
		}
		m.cancel()

		// 优雅关闭物理 Channel，已入队的 GoAway 仍可写出
		_ = m.conn.Close()
		logger.Debug("多路复用会话已关闭", "conn", m.conn.ID(), "streams", len(streams), "err", err)
	})
}

// IsClosed 是否已关闭
func (m *Muxer) IsClosed() bool {
	return m.closed.Load()
}

// Done 返回关闭信号
func (m *Muxer) Done() <-chan struct{} {
	return m.done
}

// Err 返回关闭原因，未关闭时为 nil
func (m *Muxer) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

func (m *Muxer) closedErr() error {
	if err := m.Err(); err != nil && !errors.Is(err, types.ErrConnectionClosed) {
		return fmt.Errorf("%w: %w", types.ErrConnectionClosed, err)
	}
	return types.ErrConnectionClosed
}
