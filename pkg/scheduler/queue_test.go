package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockstream/satellite-relay/pkg/wire"
)

func TestQueuePushPopOrderAndCapacity(t *testing.T) {
	q := newQueue(2, nil)

	require.True(t, q.PushBlocking(Outbound{MsgType: wire.MsgPing}))
	require.True(t, q.PushBlocking(Outbound{MsgType: wire.MsgPong}))
	require.Equal(t, 2, q.Len())

	done := make(chan bool, 1)
	go func() {
		done <- q.PushBlocking(Outbound{MsgType: wire.MsgKeepalive})
	}()

	select {
	case <-done:
		t.Fatal("push onto a full queue should block")
	case <-time.After(20 * time.Millisecond):
	}

	o, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, wire.MsgPing, o.MsgType)
	q.Drop()

	require.True(t, <-done)
	require.Equal(t, 2, q.Len())
}

func TestQueueAbortReleasesBlockedProducer(t *testing.T) {
	q := newQueue(1, nil)
	require.True(t, q.PushBlocking(Outbound{MsgType: wire.MsgPing}))

	done := make(chan bool, 1)
	go func() {
		done <- q.PushBlocking(Outbound{MsgType: wire.MsgPong})
	}()

	time.Sleep(10 * time.Millisecond)
	q.Abort()
	require.False(t, <-done)
}

func TestQueueNotifyCalledOnPush(t *testing.T) {
	calls := 0
	q := newQueue(4, func() { calls++ })
	q.PushBlocking(Outbound{MsgType: wire.MsgPing})
	q.PushBlocking(Outbound{MsgType: wire.MsgPong})
	require.Equal(t, 2, calls)
}
