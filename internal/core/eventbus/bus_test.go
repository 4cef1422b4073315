package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pstack/pkg/types"
)

func recv(t *testing.T, sub *Subscription) any {
	t.Helper()
	select {
	case evt := <-sub.Out():
		return evt
	case <-time.After(time.Second):
		t.Fatal("等待事件超时")
		return nil
	}
}

func TestBus_EmitAndReceive(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(new(types.EvtSessionReady))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(types.EvtSessionReady))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtSessionReady{SessionID: "s1", Peer: "peer-a"}))

	evt, ok := recv(t, sub).(types.EvtSessionReady)
	require.True(t, ok)
	assert.Equal(t, "s1", evt.SessionID)
	assert.Equal(t, types.PeerID("peer-a"), evt.Peer)

	t.Log("✅ 事件发射与接收正常")
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	subs := make([]*Subscription, 3)
	for i := range subs {
		var err error
		subs[i], err = bus.Subscribe(new(types.EvtSessionClosed))
		require.NoError(t, err)
	}

	em, err := bus.Emitter(new(types.EvtSessionClosed))
	require.NoError(t, err)
	require.NoError(t, em.Emit(types.EvtSessionClosed{SessionID: "s2"}))

	for _, sub := range subs {
		assert.Equal(t, "s2", recv(t, sub).(types.EvtSessionClosed).SessionID)
	}
}

func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ready, _ := bus.Subscribe(new(types.EvtSessionReady))
	closed, _ := bus.Subscribe(new(types.EvtSessionClosed))

	em, _ := bus.Emitter(new(types.EvtSessionReady))
	require.NoError(t, em.Emit(types.EvtSessionReady{SessionID: "s3"}))

	recv(t, ready)
	select {
	case <-closed.Out():
		t.Fatal("不同类型的订阅者不应收到事件")
	default:
	}
	assert.Len(t, bus.EventTypes(), 2)
}

func TestBus_InvalidType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, err := bus.Subscribe(nil)
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = bus.Subscribe(types.EvtSessionReady{})
	assert.ErrorIs(t, err, ErrNonPointerType)

	em, err := bus.Emitter(new(types.EvtSessionReady))
	require.NoError(t, err)
	assert.ErrorIs(t, em.Emit(types.EvtSessionClosed{}), ErrWrongType)
}

func TestBus_Stateful(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	em, err := bus.Emitter(new(types.EvtProtocolsUpdated), Stateful())
	require.NoError(t, err)
	require.NoError(t, em.Emit(types.EvtProtocolsUpdated{Added: []types.ProtocolID{"/a/1.0.0"}}))

	// 晚到的订阅者立即收到最后一个事件
	sub, err := bus.Subscribe(new(types.EvtProtocolsUpdated))
	require.NoError(t, err)
	evt := recv(t, sub).(types.EvtProtocolsUpdated)
	assert.Equal(t, []types.ProtocolID{"/a/1.0.0"}, evt.Added)
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(new(types.EvtSessionReady), BufSize(1))
	require.NoError(t, err)
	em, _ := bus.Emitter(new(types.EvtSessionReady))

	for i := 0; i < 3; i++ {
		require.NoError(t, em.Emit(types.EvtSessionReady{}))
	}
	assert.Equal(t, int64(2), bus.Dropped(new(types.EvtSessionReady)))
	assert.Len(t, sub.Out(), 1)
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, _ := bus.Subscribe(new(types.EvtSessionReady))
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.Out()
	assert.False(t, ok)

	// 无订阅者与发射器后节点被回收
	assert.Empty(t, bus.EventTypes())
}

func TestEmitter_Close(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	em, _ := bus.Emitter(new(types.EvtSessionReady))
	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.Emit(types.EvtSessionReady{}), ErrClosed)
	assert.Empty(t, bus.EventTypes())
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub, _ := bus.Subscribe(new(types.EvtSessionReady))

	require.NoError(t, bus.Close())
	_, ok := <-sub.Out()
	assert.False(t, ok)

	_, err := bus.Subscribe(new(types.EvtSessionReady))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = bus.Emitter(new(types.EvtSessionReady))
	assert.ErrorIs(t, err, ErrClosed)
}
