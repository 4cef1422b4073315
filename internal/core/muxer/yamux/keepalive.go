package yamux

import (
	"context"
	"fmt"
	"time"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// ============================================================================
//                              Ping / 保活
// ============================================================================

// Ping 发送 Ping 并等待 ACK，返回往返时间
func (m *Muxer) Ping(ctx context.Context) (time.Duration, error) {
	ch := make(chan struct{})

	m.pingMu.Lock()
	id := m.pingID
	m.pingID++
	m.pings[id] = ch
	m.pingMu.Unlock()

	defer func() {
		m.pingMu.Lock()
		delete(m.pings, id)
		m.pingMu.Unlock()
	}()

	start := m.clock.Now()
	if err := m.send(ctx, pingFrame(flagSYN, id)); err != nil {
		return 0, err
	}

	select {
	case <-ch:
		rtt := m.clock.Since(start)
		m.cfg.Metrics.PingRTT(rtt)
		return rtt, nil
	case <-m.done:
		return 0, m.closedErr()
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
	}
}

func (m *Muxer) handlePing(h header) {
	if h.has(flagSYN) {
		_ = m.send(m.ctx, pingFrame(flagACK, h.Length))
		return
	}
	if h.has(flagACK) {
		m.pingMu.Lock()
		ch, ok := m.pings[h.Length]
		if ok {
			delete(m.pings, h.Length)
		}
		m.pingMu.Unlock()
		if ok {
			close(ch)
		}
	}
}

// keepalive 周期性 Ping，超时判定连接失效
func (m *Muxer) keepalive() {
	ticker := m.clock.Ticker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := m.clock.WithTimeout(m.ctx, m.cfg.KeepAliveTimeout)
			_, err := m.Ping(ctx)
			cancel()
			if err == nil {
				continue
			}
			if m.IsClosed() {
				return
			}
			logger.Warn("保活超时", "conn", m.conn.ID(), "err", err)
			m.shutdown(fmt.Errorf("%w: %w", types.ErrConnectionFatal, ErrKeepAliveTimeout))
			return
		case <-m.done:
			return
		}
	}
}
