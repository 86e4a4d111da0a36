package bcast

import (
	"github.com/canopy-network/layercast/lib"
)

/*
	This file implements best-effort broadcast: deliver locally at once, then one perfect link send per peer.
	Nothing is promised across peers if the sender crashes half way through.
*/

// Link is the point-to-point transport the broadcast stack is built upon
type Link interface {
	Send(msg *lib.Message, target lib.ProcessID) lib.ErrorI
	Start()
	Stop()
}

// LinkFactory builds the link of a process given the callback the link must deliver to
type LinkFactory func(deliver lib.DeliverFunc) (Link, lib.ErrorI)

// BestEffort is the best-effort broadcast layer
type BestEffort struct {
	view    *lib.ProcessView
	link    Link
	deliver lib.DeliverFunc
	metrics *lib.Metrics
	log     lib.LoggerI
}

// NewBestEffort() creates the layer and its link
func NewBestEffort(view *lib.ProcessView, newLink LinkFactory, deliver lib.DeliverFunc, metrics *lib.Metrics, log lib.LoggerI) (*BestEffort, lib.ErrorI) {
	if deliver == nil {
		return nil, ErrNilDeliver()
	}
	b := &BestEffort{view: view, deliver: deliver, metrics: metrics, log: log}
	link, err := newLink(b.onLinkDeliver)
	if err != nil {
		return nil, err
	}
	b.link = link
	return b, nil
}

// Start() starts the link
func (b *BestEffort) Start() { b.link.Start() }

// Stop() stops the link
func (b *BestEffort) Stop() { b.link.Stop() }

// Broadcast() delivers the message locally, then sends it to every other process
// The message must be sent (originated or relayed) by this process
func (b *BestEffort) Broadcast(msg *lib.Message) lib.ErrorI {
	if msg == nil {
		return lib.ErrNilMessage()
	}
	if msg.Sender != b.view.ID {
		return ErrWrongOrigin(b.view.ID, msg.Sender)
	}
	b.metrics.UpdateBroadcast(lib.LayerBestEffort)
	b.onLinkDeliver(msg)
	var first lib.ErrorI
	for _, peer := range b.view.Others() {
		if err := b.link.Send(msg, peer.ID); err != nil {
			b.log.Errorf("Best-effort send of %s to %d failed: %s", msg, peer.ID, err.Error())
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (b *BestEffort) onLinkDeliver(msg *lib.Message) {
	b.metrics.UpdateDelivery(lib.LayerBestEffort)
	b.deliver(msg)
}
