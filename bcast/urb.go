package bcast

import (
	"sync"

	"github.com/canopy-network/layercast/lib"
)

/*
	This file implements majority-ack uniform reliable broadcast.

	On every best-effort delivery of m:
	1) record the relaying process in m's ack set
	2) relay m once, stamped with this process as sender
	3) deliver m once its ack set reaches ceil(N/2)

	Any two sets of ceil(N/2)+ relays intersect, so as long as a majority stays correct every delivered message
	is eventually delivered everywhere.
*/

// urbState is the per message identity bookkeeping
type urbState struct {
	acks      map[lib.ProcessID]struct{} // processes known to have best-effort broadcast the message
	relayed   bool                       // this process already relayed it
	delivered bool                       // this process already delivered it
}

// UniformReliable is the uniform reliable broadcast layer
type UniformReliable struct {
	view    *lib.ProcessView
	beb     *BestEffort
	deliver lib.DeliverFunc
	metrics *lib.Metrics
	log     lib.LoggerI

	mux         sync.Mutex
	state       map[lib.MessageKey]*urbState // never pruned: a delivered identity stays delivered
	undelivered int                          // states not yet delivered
}

// NewUniformReliable() creates the layer and the best-effort layer beneath it
func NewUniformReliable(view *lib.ProcessView, newLink LinkFactory, deliver lib.DeliverFunc, metrics *lib.Metrics, log lib.LoggerI) (*UniformReliable, lib.ErrorI) {
	if deliver == nil {
		return nil, ErrNilDeliver()
	}
	u := &UniformReliable{
		view:    view,
		deliver: deliver,
		metrics: metrics,
		log:     log,
		state:   make(map[lib.MessageKey]*urbState),
	}
	beb, err := NewBestEffort(view, newLink, u.onBestEffortDeliver, metrics, log)
	if err != nil {
		return nil, err
	}
	u.beb = beb
	return u, nil
}

// Start() starts the lower layers
func (u *UniformReliable) Start() { u.beb.Start() }

// Stop() stops the lower layers
func (u *UniformReliable) Stop() { u.beb.Stop() }

// Broadcast() disseminates a message originated by this process
// Self delivery happens through the best-effort local callback re-entering the relay logic
func (u *UniformReliable) Broadcast(msg *lib.Message) lib.ErrorI {
	if msg == nil {
		return lib.ErrNilMessage()
	}
	if msg.Origin != u.view.ID {
		return ErrWrongOrigin(u.view.ID, msg.Origin)
	}
	u.mux.Lock()
	st := u.getState(msg.Key())
	alreadyRelayed := st.relayed
	st.relayed = true
	u.mux.Unlock()
	if alreadyRelayed {
		u.log.Debugf("Broadcast of already relayed %s ignored", msg)
		return nil
	}
	u.metrics.UpdateBroadcast(lib.LayerUniformReliable)
	return u.beb.Broadcast(msg.Relay(u.view.ID))
}

// onBestEffortDeliver() runs the relay / ack / deliver steps; decisions are made under the lock, callbacks outside it
func (u *UniformReliable) onBestEffortDeliver(msg *lib.Message) {
	u.mux.Lock()
	st := u.getState(msg.Key())
	st.acks[msg.Sender] = struct{}{}
	relay := !st.relayed
	st.relayed = true
	deliver := !st.delivered && len(st.acks) >= u.view.Majority()
	if deliver {
		st.delivered = true
		u.undelivered--
	}
	undelivered := u.undelivered
	u.mux.Unlock()
	u.metrics.UpdateBuffered(lib.LayerUniformReliable, undelivered)
	if relay {
		if err := u.beb.Broadcast(msg.Relay(u.view.ID)); err != nil {
			u.log.Errorf("Relay of %s failed: %s", msg, err.Error())
		}
	}
	if deliver {
		u.metrics.UpdateDelivery(lib.LayerUniformReliable)
		u.deliver(msg)
	}
}

// Undelivered() returns the number of known messages still short of a majority
func (u *UniformReliable) Undelivered() int {
	u.mux.Lock()
	defer u.mux.Unlock()
	return u.undelivered
}

func (u *UniformReliable) getState(key lib.MessageKey) *urbState {
	st, found := u.state[key]
	if !found {
		st = &urbState{acks: make(map[lib.ProcessID]struct{})}
		u.state[key] = st
		u.undelivered++
	}
	return st
}
