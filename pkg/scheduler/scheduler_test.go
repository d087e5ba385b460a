package scheduler

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockstream/satellite-relay/pkg/wire"
)

func listenLoopback(t *testing.T) (*net.UDPConn, *net.UDPAddr) {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp4", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr)
}

func TestSchedulerDeliversSealedMessageToReceiver(t *testing.T) {
	senderConn, _ := listenLoopback(t)
	receiverConn, receiverAddr := listenLoopback(t)

	s := New()
	g := NewGroup("test", senderConn, receiverAddr, NewRateLimiter(0), 0x0102030405060708, 8, s.Notify)
	s.AddGroup(g)

	go s.Run()
	t.Cleanup(s.Stop)

	require.True(t, g.Enqueue(PriorityInterleave, Outbound{
		MsgType: wire.MsgPing,
		Raw:     []byte("ping-body"),
	}))

	require.NoError(t, receiverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, wire.MessageSize)
	n, _, err := receiverConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, wire.MessageSize, n)

	require.True(t, openMessage(0x0102030405060708, buf))
	require.Equal(t, wire.MsgPing, wire.MsgType(buf[16]))
	require.Equal(t, byte(len("ping-body")), buf[17])
	require.Contains(t, string(buf[18:]), "ping-body")
}

func TestGroupPrefersHigherPriorityQueue(t *testing.T) {
	senderConn, _ := listenLoopback(t)
	receiverConn, receiverAddr := listenLoopback(t)

	g := NewGroup("test", senderConn, receiverAddr, NewRateLimiter(0), 1, 4, nil)

	require.True(t, g.Enqueue(PriorityInterleave, Outbound{MsgType: wire.MsgBlockContents, Raw: []byte("low")}))
	require.True(t, g.Enqueue(PriorityReaderHigh, Outbound{MsgType: wire.MsgSyn, Raw: []byte("high")}))

	outcome, _ := g.drainOnePass()
	require.Equal(t, passDrained, outcome)

	require.NoError(t, receiverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, wire.MessageSize)
	n, _, err := receiverConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, wire.MessageSize, n)
	require.True(t, openMessage(1, buf))
	require.Equal(t, wire.MsgSyn, wire.MsgType(buf[16]))
}
