// Package metrics 提供连接升级管线的 Prometheus 指标
//
// 所有方法对 nil *Metrics 安全，组件无需判断是否启用了指标。
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

const namespace = "p2pstack"

// 协商角色
const (
	RoleSelect    = "select"
	RoleNegotiate = "negotiate"
)

// 协商结果
const (
	ResultSuccess      = "success"
	ResultNotSupported = "not_supported"
	ResultCancelled    = "cancelled"
	ResultFailed       = "failed"
)

// Metrics 指标集合
type Metrics struct {
	negotiations        *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec

	streamsOpened *prometheus.CounterVec
	streamsActive prometheus.Gauge
	streamResets  *prometheus.CounterVec
	windowUpdates prometheus.Counter
	bytes         *prometheus.CounterVec
	pingRTT       prometheus.Histogram

	sessionsActive  prometheus.Gauge
	upgradeFailures *prometheus.CounterVec
}

// New 创建指标集合并注册到 reg，reg 为 nil 时不注册
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "multistream",
			Name:      "negotiations_total",
			Help:      "Counter of multistream negotiations by role and result.",
		}, []string{"role", "result"}),
		negotiationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "multistream",
			Name:      "negotiation_duration_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			Help:      "Histogram of the time each negotiation took.",
		}, []string{"role"}),
		streamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "yamux",
			Name:      "streams_opened_total",
			Help:      "Counter of logical streams opened by direction.",
		}, []string{"direction"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "yamux",
			Name:      "streams_active",
			Help:      "Gauge of currently open logical streams.",
		}),
		streamResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "yamux",
			Name:      "stream_resets_total",
			Help:      "Counter of stream resets by origin.",
		}, []string{"origin"}),
		windowUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "yamux",
			Name:      "window_updates_total",
			Help:      "Counter of receive window extensions sent.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "yamux",
			Name:      "data_bytes_total",
			Help:      "Counter of stream payload bytes by direction.",
		}, []string{"direction"}),
		pingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "yamux",
			Name:      "ping_rtt_seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			Help:      "Histogram of keepalive round trip times.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Gauge of sessions in the ready state.",
		}),
		upgradeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "upgrade_failures_total",
			Help:      "Counter of failed connection upgrades by stage.",
		}, []string{"stage"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.negotiations, m.negotiationDuration,
		m.streamsOpened, m.streamsActive, m.streamResets, m.windowUpdates, m.bytes, m.pingRTT,
		m.sessionsActive, m.upgradeFailures,
	}
}

// ============================================================================
//                              协商
// ============================================================================

// Negotiation 记录一次协商
func (m *Metrics) Negotiation(role string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.negotiations.WithLabelValues(role, Result(err)).Inc()
	m.negotiationDuration.WithLabelValues(role).Observe(d.Seconds())
}

// Result 把协商错误映射为结果标签
func Result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, types.ErrNotSupported):
		return ResultNotSupported
	case errors.Is(err, types.ErrCancelled):
		return ResultCancelled
	default:
		return ResultFailed
	}
}

// ============================================================================
//                              多路复用
// ============================================================================

// StreamOpened 记录新流
func (m *Metrics) StreamOpened(dir types.Direction) {
	if m == nil {
		return
	}
	m.streamsOpened.WithLabelValues(dir.String()).Inc()
	m.streamsActive.Inc()
}

// StreamClosed 记录流结束
func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamsActive.Dec()
}

// StreamReset 记录流重置，remote 表示由对端发起
func (m *Metrics) StreamReset(remote bool) {
	if m == nil {
		return
	}
	origin := "local"
	if remote {
		origin = "remote"
	}
	m.streamResets.WithLabelValues(origin).Inc()
}

// WindowUpdate 记录一次窗口扩展
func (m *Metrics) WindowUpdate() {
	if m == nil {
		return
	}
	m.windowUpdates.Inc()
}

// DataSent 记录发送的负载字节
func (m *Metrics) DataSent(n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(types.DirOutbound.String()).Add(float64(n))
}

// DataReceived 记录接收的负载字节
func (m *Metrics) DataReceived(n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(types.DirInbound.String()).Add(float64(n))
}

// PingRTT 记录保活往返时间
func (m *Metrics) PingRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.pingRTT.Observe(d.Seconds())
}

// ============================================================================
//                              会话
// ============================================================================

// SessionReady 会话进入就绪状态
func (m *Metrics) SessionReady() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionClosed 就绪会话断开
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// UpgradeFailed 记录升级失败的阶段
func (m *Metrics) UpgradeFailed(stage string) {
	if m == nil {
		return
	}
	m.upgradeFailures.WithLabelValues(stage).Inc()
}
