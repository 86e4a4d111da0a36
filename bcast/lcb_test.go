package bcast

import (
	"testing"
	"time"

	"github.com/canopy-network/layercast/lib"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func stamped(origin lib.ProcessID, clock ...int32) *lib.Message {
	return lib.NewMessage(origin, lib.VectorClock(clock).Encode())
}

func TestCausalBuffersUntilDependenciesDelivered(t *testing.T) {
	network, views := newMemNetwork(0, 1), testViews(t, 3, nil)
	c := newCounter()
	l, err := NewLocalizedCausal(views[2], network.factory(3), c.deliver, nil, lib.NewNullLogger())
	require.NoError(t, err)
	first, second := stamped(1, 0, 0, 0), stamped(2, 1, 0, 0)
	// process 2 delivered 1's first message before broadcasting its own; the second arrives first here
	l.onUniformDeliver(second)
	require.Zero(t, c.total())
	require.Equal(t, 1, l.Buffered())
	l.onUniformDeliver(first)
	require.Equal(t, 2, c.total())
	require.Zero(t, l.Buffered())
	require.True(t, c.msgs[0].Equals(first))
	require.True(t, c.msgs[1].Equals(second))
	_, received := l.Clocks()
	require.Equal(t, lib.VectorClock{1, 1, 0}, received)
}

func TestCausalDrainsChains(t *testing.T) {
	network, views := newMemNetwork(0, 1), testViews(t, 3, nil)
	c := newCounter()
	l, err := NewLocalizedCausal(views[2], network.factory(3), c.deliver, nil, lib.NewNullLogger())
	require.NoError(t, err)
	// a chain 1:1 <- 2:1 <- 1:2 <- 2:2 arriving in reverse order
	chain := []*lib.Message{stamped(1, 0, 0, 0), stamped(2, 1, 0, 0), stamped(1, 1, 1, 0), stamped(2, 2, 1, 0)}
	for i := len(chain) - 1; i > 0; i-- {
		l.onUniformDeliver(chain[i])
	}
	require.Zero(t, c.total())
	require.Equal(t, 3, l.Buffered())
	l.onUniformDeliver(chain[0])
	require.Equal(t, 4, c.total())
	for i, m := range chain {
		require.True(t, c.msgs[i].Equals(m), "position %d", i)
	}
}

func TestCausalFullHistoryOrder(t *testing.T) {
	const n = 3
	network, views := newMemNetwork(5*time.Millisecond, 7), testViews(t, n, nil)
	rec := newRecorder(n)
	layers := make([]*LocalizedCausal, n)
	for i, view := range views {
		l, err := NewLocalizedCausal(view, network.factory(view.ID), rec.causalDeliver(t, view.ID, n), nil, lib.NewNullLogger())
		require.NoError(t, err)
		layers[i] = l
		l.Start()
		t.Cleanup(l.Stop)
	}
	rec.broadcast(1, 1)
	_, err := layers[0].Broadcast()
	require.NoError(t, err)
	// process 2 broadcasts only once it delivered the message of process 1
	require.Eventually(t, func() bool { return rec.deliveries(2) == 1 }, 5*time.Second, 5*time.Millisecond)
	rec.broadcast(2, 1)
	_, err = layers[1].Broadcast()
	require.NoError(t, err)
	for _, view := range views {
		id := view.ID
		require.Eventually(t, func() bool { return rec.deliveries(id) == 2 }, 5*time.Second, 5*time.Millisecond)
	}
	logs := rec.snapshot()
	for id, events := range logs {
		var delivered []lib.Event
		for _, ev := range events {
			if ev.Kind == lib.EventDeliver {
				delivered = append(delivered, ev)
			}
		}
		require.Equal(t, []lib.Event{
			{Kind: lib.EventDeliver, Origin: 1, Seq: 1},
			{Kind: lib.EventDeliver, Origin: 2, Seq: 1},
		}, delivered, "process %d", id)
	}
	require.NoError(t, VerifyCausal(logs, &lib.Membership{Peers: views[0].Peers}))
}

func TestCausalSendClockTracksDependenciesOnly(t *testing.T) {
	// process 2 is affected by 1 only
	network := newMemNetwork(0, 1)
	views := testViews(t, 3, map[lib.ProcessID][]lib.ProcessID{2: {1}})
	c := newCounter()
	l, err := NewLocalizedCausal(views[1], network.factory(2), c.deliver, nil, lib.NewNullLogger())
	require.NoError(t, err)
	l.onUniformDeliver(stamped(1, 0, 0, 0))
	l.onUniformDeliver(stamped(3, 0, 0, 0))
	require.Equal(t, 2, c.total())
	send, received := l.Clocks()
	require.Equal(t, lib.VectorClock{1, 0, 0}, send)
	require.Equal(t, lib.VectorClock{1, 0, 1}, received)
	// the stamp of the next broadcast carries the dependency, and its own broadcasts count
	seq, e := l.Broadcast()
	require.NoError(t, e)
	require.Equal(t, int32(1), seq)
	seq, e = l.Broadcast()
	require.NoError(t, e)
	require.Equal(t, int32(2), seq)
	send, _ = l.Clocks()
	require.Equal(t, lib.VectorClock{1, 2, 0}, send)
}

func TestCausalDropsMalformed(t *testing.T) {
	network, views := newMemNetwork(0, 1), testViews(t, 3, nil)
	c := newCounter()
	l, err := NewLocalizedCausal(views[0], network.factory(1), c.deliver, nil, lib.NewNullLogger())
	require.NoError(t, err)
	// a vector of the wrong length
	l.onUniformDeliver(stamped(2, 0, 0))
	require.Zero(t, c.total())
	require.Zero(t, l.Buffered())
}

func TestCausalOrderEndToEnd(t *testing.T) {
	const n, perProcess = 4, 30
	deps := map[lib.ProcessID][]lib.ProcessID{1: {}, 2: {1}, 3: {1, 2}, 4: {3}}
	network, views := newMemNetwork(4*time.Millisecond, 99), testViews(t, n, deps)
	rec := newRecorder(n)
	layers := make([]*LocalizedCausal, n)
	for i, view := range views {
		l, err := NewLocalizedCausal(view, network.factory(view.ID), rec.causalDeliver(t, view.ID, n), nil, lib.NewNullLogger())
		require.NoError(t, err)
		layers[i] = l
		l.Start()
		t.Cleanup(l.Stop)
	}
	var group errgroup.Group
	for i, l := range layers {
		id, l := lib.ProcessID(i+1), l
		group.Go(func() error {
			for j := int32(1); j <= perProcess; j++ {
				rec.broadcast(id, j)
				if _, err := l.Broadcast(); err != nil {
					return err
				}
				// interleave with deliveries so stamps carry real dependencies
				time.Sleep(time.Millisecond)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())
	for _, view := range views {
		id := view.ID
		require.Eventually(t, func() bool { return rec.deliveries(id) == n*perProcess }, 10*time.Second, 10*time.Millisecond)
	}
	logs := rec.snapshot()
	membership := &lib.Membership{Peers: views[0].Peers, Dependencies: deps}
	require.NoError(t, VerifyCausal(logs, membership))
	// the own component of every stamp also yields per-origin fifo order
	require.NoError(t, VerifyFIFO(logs))
	for _, l := range layers {
		require.Zero(t, l.Buffered())
	}
}
