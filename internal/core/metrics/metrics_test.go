package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

// TestMetrics_NilSafe nil 指标集合不 panic
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Negotiation(RoleSelect, nil, time.Millisecond)
		m.StreamOpened(types.DirOutbound)
		m.StreamClosed()
		m.StreamReset(true)
		m.WindowUpdate()
		m.DataSent(1)
		m.DataReceived(1)
		m.PingRTT(time.Millisecond)
		m.SessionReady()
		m.SessionClosed()
		m.UpgradeFailed("security")
	})
}

// TestMetrics_Register 注册到 registry，重复注册报错
func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = New(reg)
	assert.Error(t, err)

	m.StreamOpened(types.DirInbound)
	m.StreamOpened(types.DirOutbound)
	m.StreamClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamsOpened.WithLabelValues("inbound")))
}

// TestMetrics_Negotiation 按结果分类
func TestMetrics_Negotiation(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.Negotiation(RoleSelect, nil, time.Millisecond)
	m.Negotiation(RoleSelect, fmt.Errorf("%w: %w", types.ErrNegotiationFailed, types.ErrNotSupported), time.Millisecond)
	m.Negotiation(RoleNegotiate, fmt.Errorf("%w: %w", types.ErrCancelled, context.Canceled), time.Millisecond)
	m.Negotiation(RoleNegotiate, errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues(RoleSelect, ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues(RoleSelect, ResultNotSupported)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues(RoleNegotiate, ResultCancelled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues(RoleNegotiate, ResultFailed)))
}

// TestMetrics_Data 字节计数
func TestMetrics_Data(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.DataSent(100)
	m.DataReceived(40)
	m.StreamReset(false)
	m.WindowUpdate()

	assert.Equal(t, 100.0, testutil.ToFloat64(m.bytes.WithLabelValues("outbound")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.bytes.WithLabelValues("inbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamResets.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.windowUpdates))
}
