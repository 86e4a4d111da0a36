package bcast

import (
	"sync/atomic"

	"github.com/canopy-network/layercast/lib"
)

// Layer is a broadcast layer driven by a process: every broadcast carries the next per-origin sequence number
type Layer interface {
	Start()
	Stop()
	// Broadcast() disseminates the next message of this process and returns its 1-based sequence number
	Broadcast() (int32, lib.ErrorI)
	// Buffered() returns the delivered-below messages waiting for an ordering condition
	Buffered() int
	// Undelivered() returns the messages known to uniform reliable broadcast but short of a majority
	Undelivered() int
}

var (
	_ Layer = new(FIFO)
	_ Layer = new(LocalizedCausal)
	_ Layer = new(sequenced)
)

// NewLayer() builds the broadcast layer named by the configuration
func NewLayer(layer string, view *lib.ProcessView, newLink LinkFactory, deliver lib.DeliverFunc, metrics *lib.Metrics, log lib.LoggerI) (Layer, lib.ErrorI) {
	switch layer {
	case lib.LayerBestEffort:
		b, err := NewBestEffort(view, newLink, deliver, metrics, log)
		if err != nil {
			return nil, err
		}
		return &sequenced{id: view.ID, start: b.Start, stop: b.Stop, broadcast: b.Broadcast}, nil
	case lib.LayerUniformReliable:
		u, err := NewUniformReliable(view, newLink, deliver, metrics, log)
		if err != nil {
			return nil, err
		}
		return &sequenced{id: view.ID, start: u.Start, stop: u.Stop, broadcast: u.Broadcast, undelivered: u.Undelivered}, nil
	case lib.LayerFIFO:
		f, err := NewFIFO(view, newLink, deliver, metrics, log)
		if err != nil {
			return nil, err
		}
		return f, nil
	case lib.LayerLocalizedCausal:
		l, err := NewLocalizedCausal(view, newLink, deliver, metrics, log)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, ErrUnknownLayer(layer)
	}
}

// DecodeSeq() recovers the origin and sequence number of a message delivered by the named layer
func DecodeSeq(layer string, msg *lib.Message, n int) (lib.ProcessID, int32, lib.ErrorI) {
	switch layer {
	case lib.LayerBestEffort, lib.LayerUniformReliable, lib.LayerFIFO:
		env, err := lib.NewFIFOEnvelope(msg)
		if err != nil {
			return 0, 0, err
		}
		return env.Origin, env.Seq, nil
	case lib.LayerLocalizedCausal:
		env, err := lib.NewCausalEnvelope(msg, n)
		if err != nil {
			return 0, 0, err
		}
		return env.Origin, env.Seq(), nil
	default:
		return 0, 0, ErrUnknownLayer(layer)
	}
}

// sequenced numbers the broadcasts of a layer that carries arbitrary payloads, using the fifo payload encoding
type sequenced struct {
	id          lib.ProcessID
	sent        atomic.Int32
	start, stop func()
	broadcast   func(msg *lib.Message) lib.ErrorI
	undelivered func() int
}

func (s *sequenced) Start() { s.start() }

func (s *sequenced) Stop() { s.stop() }

func (s *sequenced) Broadcast() (int32, lib.ErrorI) {
	seq := s.sent.Add(1)
	return seq, s.broadcast(lib.NewMessage(s.id, lib.EncodeFIFOPayload(seq)))
}

func (s *sequenced) Buffered() int { return 0 }

func (s *sequenced) Undelivered() int {
	if s.undelivered == nil {
		return 0
	}
	return s.undelivered()
}
