package bcast

import (
	"sync"
	"sync/atomic"

	"github.com/canopy-network/layercast/lib"
	"github.com/google/btree"
)

/*
	This file implements FIFO broadcast on top of uniform reliable broadcast.

	The payload of every message is its origin's sequence number (1, 2, 3...). Each origin has a next-expected counter
	and an ordered buffer of arrivals that came early; a delivery drains the buffer up to the first gap.
*/

const btreeDegree = 8

// FIFO is the first-in first-out broadcast layer
type FIFO struct {
	view    *lib.ProcessView
	urb     *UniformReliable
	deliver lib.DeliverFunc
	metrics *lib.Metrics
	log     lib.LoggerI

	sent     atomic.Int32                       // the last sequence number this process broadcast
	mux      sync.Mutex                         // held across the deliver callbacks to keep per-origin order
	next     []int32                            // index i <-> origin i+1
	buffers  []*btree.BTreeG[*lib.FIFOEnvelope] // index i <-> origin i+1
	buffered int                                // total buffered envelopes
}

// NewFIFO() creates the layer and the uniform reliable layer beneath it
// NOTE: deliver runs with the layer lock held and must not call Broadcast on this layer
func NewFIFO(view *lib.ProcessView, newLink LinkFactory, deliver lib.DeliverFunc, metrics *lib.Metrics, log lib.LoggerI) (*FIFO, lib.ErrorI) {
	if deliver == nil {
		return nil, ErrNilDeliver()
	}
	n := view.NumProcesses()
	f := &FIFO{
		view:    view,
		deliver: deliver,
		metrics: metrics,
		log:     log,
		next:    make([]int32, n),
		buffers: make([]*btree.BTreeG[*lib.FIFOEnvelope], n),
	}
	for i := range f.next {
		f.next[i] = 1
		f.buffers[i] = btree.NewG[*lib.FIFOEnvelope](btreeDegree, (*lib.FIFOEnvelope).Less)
	}
	urb, err := NewUniformReliable(view, newLink, f.onUniformDeliver, metrics, log)
	if err != nil {
		return nil, err
	}
	f.urb = urb
	return f, nil
}

// Start() starts the lower layers
func (f *FIFO) Start() { f.urb.Start() }

// Stop() stops the lower layers
func (f *FIFO) Stop() { f.urb.Stop() }

// Broadcast() assigns the next sequence number and disseminates it; returns the sequence number
func (f *FIFO) Broadcast() (int32, lib.ErrorI) {
	seq := f.sent.Add(1)
	f.metrics.UpdateBroadcast(lib.LayerFIFO)
	return seq, f.urb.Broadcast(lib.NewMessage(f.view.ID, lib.EncodeFIFOPayload(seq)))
}

// onUniformDeliver() delivers in sequence or buffers until the gap closes
// NOTE: the deliver callback must not broadcast on this layer
func (f *FIFO) onUniformDeliver(msg *lib.Message) {
	env, err := lib.NewFIFOEnvelope(msg)
	if err != nil {
		f.log.Warnf("Dropped fifo message from %d: %s", msg.Origin, err.Error())
		return
	}
	if env.Origin < 1 || int(env.Origin) > len(f.next) {
		f.log.Warnf("Dropped fifo message from unknown origin %d", env.Origin)
		return
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	i := env.Origin - 1
	switch {
	case env.Seq < f.next[i]:
		f.log.Debugf("Ignored stale fifo seq %d of %d, expecting %d", env.Seq, env.Origin, f.next[i])
		return
	case env.Seq > f.next[i]:
		if _, replaced := f.buffers[i].ReplaceOrInsert(env); !replaced {
			f.buffered++
		}
		f.metrics.UpdateBuffered(lib.LayerFIFO, f.buffered)
		return
	}
	f.deliverLocked(env)
	// release every buffered successor up to the first gap
	for {
		head, ok := f.buffers[i].Min()
		if !ok || head.Seq != f.next[i] {
			break
		}
		f.buffers[i].DeleteMin()
		f.buffered--
		f.deliverLocked(head)
	}
	f.metrics.UpdateBuffered(lib.LayerFIFO, f.buffered)
}

func (f *FIFO) deliverLocked(env *lib.FIFOEnvelope) {
	f.next[env.Origin-1]++
	f.metrics.UpdateDelivery(lib.LayerFIFO)
	f.deliver(env.Message)
}

// Buffered() returns the number of messages waiting for a predecessor
func (f *FIFO) Buffered() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.buffered
}

// Undelivered() returns the number of messages the uniform reliable layer has not delivered yet
func (f *FIFO) Undelivered() int { return f.urb.Undelivered() }
