package p2p

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/canopy-network/layercast/lib"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

func TestLinkDelivery(t *testing.T) {
	links, collectors := newTestLinks(t, 3, testLinkConfig(), nil)
	const count = 50
	for i := 0; i < count; i++ {
		msg := lib.NewMessage(1, []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, links[0].Send(msg, 2))
		require.NoError(t, links[0].Send(msg, 3))
	}
	require.Eventually(t, func() bool {
		return collectors[1].count() == count && collectors[2].count() == count
	}, testTimeout, 10*time.Millisecond)
	// every frame is eventually acknowledged and removed from the pending table
	require.Eventually(t, func() bool { return links[0].Pending() == 0 }, testTimeout, 10*time.Millisecond)
	// exactly once, with origin and sender intact
	seen := make(map[string]int)
	for _, m := range collectors[1].snapshot() {
		require.Equal(t, lib.ProcessID(1), m.Origin)
		require.Equal(t, lib.ProcessID(1), m.Sender)
		seen[string(m.Payload)]++
	}
	require.Len(t, seen, count)
	for _, n := range seen {
		require.Equal(t, 1, n)
	}
	require.Zero(t, collectors[0].count())
	status := links[0].Status()
	require.Zero(t, status.Pending)
	require.Len(t, status.Peers, 2)
	require.Positive(t, status.BytesSent)
	require.Positive(t, status.BytesRecv)
	// the receiving side counts the data frames right away
	require.Positive(t, links[1].Status().BytesRecv)
}

func TestLinkDuplicatesDeliveredOnce(t *testing.T) {
	conns, addresses := newTestConns(t, 2)
	// process 1 is a raw socket so duplicates can be injected
	raw := conns[0]
	defer raw.Close()
	view, err := lib.NewProcessView(2, addresses, nil)
	require.NoError(t, err)
	c := new(collector)
	link := NewPerfectLink(view, conns[1], testLinkConfig(), c.deliver, nil, lib.NewNullLogger())
	link.Start()
	defer link.Stop()
	bz, err := lib.NewDataFrame(7, lib.NewMessage(1, []byte("dup"))).Marshal()
	require.NoError(t, err)
	target := conns[1].LocalAddr()
	const repeats = 3
	for i := 0; i < repeats; i++ {
		_, e := raw.WriteTo(bz, target)
		require.NoError(t, e)
	}
	// every copy is acknowledged
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(testTimeout)))
	buf := make([]byte, 64)
	for i := 0; i < repeats; i++ {
		n, _, e := raw.ReadFrom(buf)
		require.NoError(t, e)
		ack, er := lib.UnmarshalFrame(buf[:n])
		require.NoError(t, er)
		require.Equal(t, lib.FrameAck, ack.Kind)
		require.Equal(t, int32(7), ack.Seq)
	}
	// but delivered once
	require.Equal(t, 1, c.count())
	require.Equal(t, "dup", string(c.snapshot()[0].Payload))
	// a new link sequence is a new frame even with an identical payload
	bz, err = lib.NewDataFrame(8, lib.NewMessage(1, []byte("dup"))).Marshal()
	require.NoError(t, err)
	_, e := raw.WriteTo(bz, target)
	require.NoError(t, e)
	require.Eventually(t, func() bool { return c.count() == 2 }, testTimeout, 10*time.Millisecond)
}

func TestLinkDropsMalformed(t *testing.T) {
	conns, addresses := newTestConns(t, 3)
	raw := conns[0]
	defer raw.Close()
	defer conns[2].Close()
	view, err := lib.NewProcessView(2, addresses, nil)
	require.NoError(t, err)
	c := new(collector)
	link := NewPerfectLink(view, conns[1], testLinkConfig(), c.deliver, nil, lib.NewNullLogger())
	link.Start()
	defer link.Stop()
	target := conns[1].LocalAddr()
	badSender, _ := lib.NewDataFrame(1, lib.NewMessage(1, []byte("x")).Relay(3)).Marshal()
	badOrigin, _ := lib.NewDataFrame(2, &lib.Message{Origin: 9, Sender: 1, Payload: []byte("x")}).Marshal()
	for _, bz := range [][]byte{
		{},                 // empty
		{1, 0, 0},          // short
		{5, 0, 0, 0, 1},    // unknown kind
		{1, 0, 0, 0, 1, 0}, // short data
		badSender,          // claims to be relayed by 3 but comes from 1
		badOrigin,          // origin outside the membership
	} {
		_, e := raw.WriteTo(bz, target)
		require.NoError(t, e)
	}
	// a datagram from a socket outside the membership
	stranger, e := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, e)
	defer stranger.Close()
	good, _ := lib.NewDataFrame(3, lib.NewMessage(1, []byte("ok"))).Marshal()
	_, e = stranger.WriteTo(good, target)
	require.NoError(t, e)
	// the link survives and delivers the next valid frame
	_, e = raw.WriteTo(good, target)
	require.NoError(t, e)
	require.Eventually(t, func() bool { return c.count() == 1 }, testTimeout, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, c.count())
	require.Equal(t, "ok", string(c.snapshot()[0].Payload))
}

func TestLinkLossyScenario(t *testing.T) {
	config := lib.DefaultLinkConfig() // 300ms minimum timeout
	var sender *lossyConn
	links, collectors := newTestLinks(t, 2, config, func(id lib.ProcessID, conn net.PacketConn) net.PacketConn {
		if id != 1 {
			return conn
		}
		// half of the sender's datagrams are lost, starting with the first transmission
		sender = newLossyConn(conn, 0, 0)
		sender.alternate = true
		return sender
	})
	require.NoError(t, links[0].Send(lib.NewMessage(1, []byte("through the storm")), 2))
	require.Eventually(t, func() bool { return collectors[1].count() == 1 }, testTimeout, 20*time.Millisecond)
	require.Eventually(t, func() bool { return links[0].Pending() == 0 }, testTimeout, 20*time.Millisecond)
	// the peer's timeout doubled at least once along the way
	require.Eventually(t, func() bool { return links[0].Status().Peers[0].Backoffs >= 1 }, testTimeout, 20*time.Millisecond)
	writes, dropped := sender.stats()
	require.GreaterOrEqual(t, writes, 2)
	require.GreaterOrEqual(t, dropped, 1)
	require.Equal(t, 1, collectors[1].count())
}

func TestLinkConvergesUnderRandomLoss(t *testing.T) {
	links, collectors := newTestLinks(t, 3, testLinkConfig(), func(id lib.ProcessID, conn net.PacketConn) net.PacketConn {
		return newLossyConn(conn, 0.2, int64(id))
	})
	const count = 20
	for i := 0; i < count; i++ {
		for from, link := range links {
			origin := lib.ProcessID(from + 1)
			for _, peer := range link.view.Others() {
				require.NoError(t, link.Send(lib.NewMessage(origin, []byte(fmt.Sprintf("%d-%d", peer.ID, i))), peer.ID))
			}
		}
	}
	require.Eventually(t, func() bool {
		for _, c := range collectors {
			if c.count() != 2*count {
				return false
			}
		}
		return true
	}, time.Minute, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, link := range links {
			if link.Pending() != 0 {
				return false
			}
		}
		return true
	}, time.Minute, 20*time.Millisecond)
}

func TestSweepBackoffAndReset(t *testing.T) {
	conns, addresses := newTestConns(t, 3)
	for _, c := range conns[1:] {
		defer c.Close()
	}
	view, err := lib.NewProcessView(1, addresses, nil)
	require.NoError(t, err)
	config := lib.DefaultLinkConfig()
	// the workers are never started; the sweep is driven by hand
	link := NewPerfectLink(view, conns[0], config, nil, nil, lib.NewNullLogger())
	defer link.Stop()
	minTimeout := config.MinTimeout()
	require.NoError(t, link.Send(lib.NewMessage(1, []byte("a")), 2))
	require.NoError(t, link.Send(lib.NewMessage(1, []byte("b")), 2))
	start := time.Now()
	// younger than the timeout: nothing happens
	link.sweep(start)
	require.Equal(t, minTimeout, link.PeerTimeout(2))
	// two overdue frames to the same peer double its timeout only once
	link.sweep(start.Add(minTimeout))
	require.Equal(t, 2*minTimeout, link.PeerTimeout(2))
	require.Equal(t, minTimeout, link.PeerTimeout(3))
	// the frames were just retransmitted so they are not yet due under the doubled timeout
	link.sweep(start.Add(2 * minTimeout))
	require.Equal(t, 2*minTimeout, link.PeerTimeout(2))
	link.sweep(start.Add(3 * minTimeout))
	require.Equal(t, 4*minTimeout, link.PeerTimeout(2))
	// hearing from the peer resets its timeout on the next sweep
	link.peers[1].received.Store(true)
	link.sweep(start.Add(3*minTimeout + time.Millisecond))
	require.Equal(t, minTimeout, link.PeerTimeout(2))
	require.Equal(t, uint64(2), link.Status().Peers[0].Backoffs)
	require.Equal(t, 2, link.Status().Peers[0].Pending)
	// an ack from the wrong peer does not clear the entry, one from the target does
	link.onAck(&lib.Frame{Kind: lib.FrameAck, Seq: 0}, 3)
	require.Equal(t, 2, link.Pending())
	link.onAck(&lib.Frame{Kind: lib.FrameAck, Seq: 0}, 2)
	require.Equal(t, 1, link.Pending())
}

func TestBackoffCeiling(t *testing.T) {
	ps := &peerState{peer: &lib.Peer{ID: 2}}
	ps.timeout.Store(int64(300 * time.Millisecond))
	ps.backoff(500 * time.Millisecond)
	require.Equal(t, 500*time.Millisecond, ps.Timeout())
	ps.timeout.Store(int64(time.Duration(1) << 62))
	ps.backoff(0)
	require.Positive(t, ps.Timeout())
}

func TestSendErrors(t *testing.T) {
	links, _ := newTestLinks(t, 2, testLinkConfig(), nil)
	link := links[0]
	tests := []struct {
		name   string
		msg    *lib.Message
		target lib.ProcessID
		code   lib.ErrorCode
	}{
		{name: "nil message", msg: nil, target: 2, code: lib.CodeNilMessage},
		{name: "self", msg: lib.NewMessage(1, nil), target: 1, code: lib.CodeSendToSelf},
		{name: "unknown target", msg: lib.NewMessage(1, nil), target: 9, code: lib.CodeInvalidProcessID},
		{name: "too large", msg: lib.NewMessage(1, bytes.Repeat([]byte{1}, 70_000)), target: 2, code: lib.CodeFrameTooLarge},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := link.Send(test.msg, test.target)
			require.Error(t, err)
			require.Equal(t, test.code, err.Code())
		})
	}
	link.Stop()
	err := link.Send(lib.NewMessage(1, nil), 2)
	require.Error(t, err)
	require.Equal(t, lib.CodeLinkStopped, err.Code())
}

func TestListenUDP(t *testing.T) {
	config := lib.DefaultLinkConfig()
	config.BindRetryMaxTimeS = 0
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	conn, err := ListenUDP(addr, config, lib.NewNullLogger())
	require.NoError(t, err)
	defer conn.Close()
	// the same address cannot be bound twice
	taken := conn.LocalAddr().(*net.UDPAddr)
	_, err = ListenUDP(taken, config, lib.NewNullLogger())
	require.Error(t, err)
	require.Equal(t, lib.CodeFailedListen, err.Code())
}
