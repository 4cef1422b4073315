package yamux

import (
	"errors"
	"io"
	"sync"

	"github.com/dep2p/go-p2pstack/internal/core/channel"
	"github.com/dep2p/go-p2pstack/pkg/interfaces"
	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              Stream
// ============================================================================

// Stream 多路复用流
//
// 应用持有 Channel 的上端，多路复用器持有下端：
// 上端写入的字节由发送泵取出并按发送窗口切成 Data 帧；
// 收到的 Data 帧写入下端，供上端读取。
type Stream struct {
	*channel.Channel

	id   types.StreamID
	dir  types.Direction
	m    *Muxer
	down *channel.Channel

	recvWindow *LocalWindow
	sendWindow *RemoteWindow

	mu          sync.Mutex
	state       types.StreamState
	finSent     bool
	finRecv     bool
	remoteReset bool

	releaseOnce sync.Once
}

var _ interfaces.MuxedStream = (*Stream)(nil)

func newStream(m *Muxer, id types.StreamID, dir types.Direction, state types.StreamState) (*Stream, error) {
	recv, err := NewLocalWindow(int64(m.cfg.InitialWindow), int64(m.cfg.MaxWindow), m.cfg.WindowPolicy,
		WithClock(m.clock), WithGrowthInterval(m.cfg.GrowthInterval))
	if err != nil {
		return nil, err
	}

	up := channel.New(channel.WithSendLimit(int(m.cfg.MaxFrameSize)))
	s := &Stream{
		Channel:    up,
		id:         id,
		dir:        dir,
		m:          m,
		down:       up.Peer(),
		recvWindow: recv,
		sendWindow: NewRemoteWindow(0),
		state:      state,
	}
	up.SetReadObserver(s.consumed)
	up.OnClose(func() {
		// 应用 Reset 时发送泵可能阻塞在发送窗口上
		if up.Err() != nil {
			s.sendWindow.Close()
		}
	})
	return s, nil
}

// StreamID 返回流 ID
func (s *Stream) StreamID() types.StreamID {
	return s.id
}

// Direction 返回流方向
func (s *Stream) Direction() types.Direction {
	return s.dir
}

// State 返回流状态
func (s *Stream) State() types.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ============================================================================
//                              发送路径
// ============================================================================

// sendLoop 发送泵，从下端读取应用写入的字节
func (s *Stream) sendLoop() {
	buf := make([]byte, s.m.cfg.MaxFrameSize)
	for {
		n, err := s.down.ReadContext(s.m.ctx, buf, types.ReadAny)
		if n > 0 {
			if serr := s.sendData(buf[:n]); serr != nil {
				s.reset(serr, true)
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			s.sendFIN()
			return
		}
		s.reset(err, true)
		return
	}
}

func (s *Stream) sendData(p []byte) error {
	for len(p) > 0 {
		k, err := s.sendWindow.SpendOrWait(s.m.ctx, len(p))
		if err != nil {
			return err
		}
		if err := s.m.send(s.m.ctx, dataFrame(s.id, 0, p[:k])); err != nil {
			return err
		}
		s.m.cfg.Metrics.DataSent(k)
		p = p[k:]
	}
	return nil
}

func (s *Stream) sendFIN() {
	s.mu.Lock()
	if s.state.IsTerminal() || s.finSent {
		s.mu.Unlock()
		return
	}
	s.finSent = true
	s.mu.Unlock()

	if err := s.m.send(s.m.ctx, windowUpdateFrame(s.id, flagFIN, 0)); err != nil {
		s.reset(err, false)
		return
	}
	s.transition()
}

// consumed 读取观察者：积压降到半个窗口以下时补充接收窗口
func (s *Stream) consumed(int) {
	if s.State().IsTerminal() {
		return
	}
	if int64(s.Channel.Buffered()) > s.recvWindow.Size()/2 {
		return
	}
	delta := s.recvWindow.ExtendIfNeeded()
	if delta == 0 {
		return
	}
	if err := s.m.send(s.m.ctx, windowUpdateFrame(s.id, 0, delta)); err != nil {
		return
	}
	s.m.cfg.Metrics.WindowUpdate()
}

// ============================================================================
//                              接收路径（由读循环调用）
// ============================================================================

func (s *Stream) ack() {
	s.mu.Lock()
	if s.state == types.StreamIdle {
		s.state = types.StreamOpen
	}
	s.mu.Unlock()
}

// receive 投递数据负载，超出接收窗口时重置流
func (s *Stream) receive(payload []byte) {
	if !s.recvWindow.TrySpend(uint32(len(payload))) {
		logger.Warn("流接收窗口越界", "stream", s.id, "len", len(payload), "available", s.recvWindow.Available())
		s.reset(types.ErrProtocolViolation, true)
		return
	}
	if _, err := s.down.WriteContext(s.m.ctx, payload); err != nil {
		// 应用已关闭读方向
		s.reset(types.ErrStreamReset, true)
		return
	}
	s.m.cfg.Metrics.DataReceived(len(payload))
}

func (s *Stream) remoteFIN() {
	s.mu.Lock()
	if s.state.IsTerminal() || s.finRecv {
		s.mu.Unlock()
		return
	}
	s.finRecv = true
	s.mu.Unlock()

	_ = s.down.CloseWrite()
	s.transition()
}

func (s *Stream) remoteRST() {
	s.mu.Lock()
	s.remoteReset = true
	s.mu.Unlock()
	s.reset(types.ErrStreamReset, false)
}

// ============================================================================
//                              状态机
// ============================================================================

// transition 按 FIN 标志推进状态，到达 Closed 时移除流
func (s *Stream) transition() {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	switch {
	case s.finSent && s.finRecv:
		s.state = types.StreamClosed
	case s.finSent:
		s.state = types.StreamLocalClosed
	case s.finRecv:
		s.state = types.StreamRemoteClosed
	}
	closed := s.state == types.StreamClosed
	s.mu.Unlock()

	if closed {
		s.sendWindow.Close()
		s.release()
	}
}

// reset 重置流，notify 为 true 且重置不是由对端发起时发送 RST
func (s *Stream) reset(cause error, notify bool) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.state = types.StreamReset
	remote := s.remoteReset
	s.mu.Unlock()

	s.sendWindow.Close()
	_ = s.down.CloseWithError(types.ErrStreamReset)
	s.m.cfg.Metrics.StreamReset(remote)

	if notify && !remote && !s.m.IsClosed() {
		_ = s.m.send(s.m.ctx, windowUpdateFrame(s.id, flagRST, 0))
	}
	logger.Debug("流已重置", "stream", s.id, "remote", remote, "cause", cause)
	s.release()
}

// abort 会话拆除时中止流
func (s *Stream) abort(err error) {
	s.mu.Lock()
	if !s.state.IsTerminal() {
		s.state = types.StreamReset
	}
	s.mu.Unlock()

	s.sendWindow.Close()
	_ = s.down.CloseWithError(err)
	s.release()
}

// release 从会话中移除并归还流配额，只执行一次
func (s *Stream) release() {
	s.releaseOnce.Do(func() {
		s.m.removeStream(s.id)
		s.m.cfg.Metrics.StreamClosed()
	})
}
