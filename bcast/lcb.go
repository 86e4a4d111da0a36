package bcast

import (
	"sync"

	"github.com/canopy-network/layercast/lib"
	"github.com/ef-ds/deque"
)

/*
	This file implements localized causal broadcast on top of uniform reliable broadcast.

	Two clocks are kept per process:
	- the send clock is stamped on every broadcast; its own component counts this process' broadcasts (read then
	  incremented) and every other component i counts the deliveries of i's messages, but only for i in the
	  dependency set, so the causal history carried is restricted to the processes that affect this one
	- the received clock counts every delivery per origin and is the reference of the dominance check

	A message is deliverable once its stamp is component-wise <= the received clock. Every delivery may unblock
	buffered messages, so the backlog is rescanned to quiescence while holding the delivery lock.
*/

// causalItem is a buffered message with its decoded stamp
type causalItem struct {
	msg *lib.Message
	env *lib.CausalEnvelope
}

// LocalizedCausal is the localized causal broadcast layer
type LocalizedCausal struct {
	view    *lib.ProcessView
	urb     *UniformReliable
	deliver lib.DeliverFunc
	metrics *lib.Metrics
	log     lib.LoggerI

	clockMux  sync.Mutex      // guards sendClock
	sendClock lib.VectorClock // stamped on every broadcast

	mux      sync.Mutex      // held for the whole check and drain, callbacks included
	received lib.VectorClock // deliveries per origin
	pending  deque.Deque     // *causalItem not yet deliverable
}

// NewLocalizedCausal() creates the layer and the uniform reliable layer beneath it
// NOTE: deliver runs with the layer lock held and must not call Broadcast on this layer
func NewLocalizedCausal(view *lib.ProcessView, newLink LinkFactory, deliver lib.DeliverFunc, metrics *lib.Metrics, log lib.LoggerI) (*LocalizedCausal, lib.ErrorI) {
	if deliver == nil {
		return nil, ErrNilDeliver()
	}
	l := &LocalizedCausal{
		view:      view,
		deliver:   deliver,
		metrics:   metrics,
		log:       log,
		sendClock: lib.NewVectorClock(view.NumProcesses()),
		received:  lib.NewVectorClock(view.NumProcesses()),
	}
	urb, err := NewUniformReliable(view, newLink, l.onUniformDeliver, metrics, log)
	if err != nil {
		return nil, err
	}
	l.urb = urb
	return l, nil
}

// Start() starts the lower layers
func (l *LocalizedCausal) Start() { l.urb.Start() }

// Stop() stops the lower layers
func (l *LocalizedCausal) Stop() { l.urb.Stop() }

// Broadcast() stamps a snapshot of the send clock, then increments this process' own component
// Returns the 1-based position of the message among this process' broadcasts
func (l *LocalizedCausal) Broadcast() (int32, lib.ErrorI) {
	l.clockMux.Lock()
	stamp := l.sendClock.Copy()
	l.sendClock[l.view.ID-1]++
	l.clockMux.Unlock()
	l.metrics.UpdateBroadcast(lib.LayerLocalizedCausal)
	return stamp.Get(l.view.ID) + 1, l.urb.Broadcast(lib.NewMessage(l.view.ID, stamp.Encode()))
}

// onUniformDeliver() delivers the message if its dependencies are satisfied and drains the backlog, else buffers it
// NOTE: the deliver callback must not broadcast on this layer
func (l *LocalizedCausal) onUniformDeliver(msg *lib.Message) {
	env, err := lib.NewCausalEnvelope(msg, l.view.NumProcesses())
	if err != nil {
		l.log.Warnf("Dropped causal message from %d: %s", msg.Origin, err.Error())
		return
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	if !env.Vector.LessOrEqual(l.received) {
		l.pending.PushBack(&causalItem{msg: msg, env: env})
		l.metrics.UpdateBuffered(lib.LayerLocalizedCausal, l.pending.Len())
		return
	}
	l.deliverLocked(msg, env)
	l.drainLocked()
	l.metrics.UpdateBuffered(lib.LayerLocalizedCausal, l.pending.Len())
}

// drainLocked() rescans the backlog until a full pass delivers nothing
func (l *LocalizedCausal) drainLocked() {
	for progressed := true; progressed; {
		progressed = false
		for n := l.pending.Len(); n > 0; n-- {
			x, _ := l.pending.PopFront()
			item := x.(*causalItem)
			if !item.env.Vector.LessOrEqual(l.received) {
				l.pending.PushBack(item)
				continue
			}
			l.deliverLocked(item.msg, item.env)
			progressed = true
		}
	}
}

// deliverLocked() advances the received clock and, for dependencies, the send clock, then invokes the callback
// NOTE: the clocks move first so a broadcast issued after the callback observed the delivery carries it in its stamp
func (l *LocalizedCausal) deliverLocked(msg *lib.Message, env *lib.CausalEnvelope) {
	l.received[env.Origin-1]++
	if env.Origin != l.view.ID && l.view.DependsOn(env.Origin) {
		l.clockMux.Lock()
		l.sendClock[env.Origin-1]++
		l.clockMux.Unlock()
	}
	l.metrics.UpdateDelivery(lib.LayerLocalizedCausal)
	l.deliver(msg)
}

// Buffered() returns the number of messages waiting for a causal predecessor
func (l *LocalizedCausal) Buffered() int {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.pending.Len()
}

// Undelivered() returns the number of messages the uniform reliable layer has not delivered yet
func (l *LocalizedCausal) Undelivered() int { return l.urb.Undelivered() }

// Clocks() returns copies of the send and received clocks
func (l *LocalizedCausal) Clocks() (send, received lib.VectorClock) {
	l.mux.Lock()
	received = l.received.Copy()
	l.mux.Unlock()
	l.clockMux.Lock()
	send = l.sendClock.Copy()
	l.clockMux.Unlock()
	return
}
