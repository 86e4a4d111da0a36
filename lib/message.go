package lib

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

/* This file implements the application level messages carried by every broadcast layer */

const (
	fifoPayloadSize = 4 // a single big-endian int32 sequence number
	vectorEntrySize = 4 // each vector clock entry is a big-endian int32
)

// ProcessID is the 1-based, dense identifier of a process in the membership
type ProcessID int32

// DeliverFunc is the upcall a layer invokes synchronously once it delivers a message
type DeliverFunc func(msg *Message)

// Message is an application message as it travels through the broadcast stack
// - Origin is the process that first broadcast it and never changes
// - Sender is the process currently relaying it; it changes on every uniform-reliable relay hop
// Identity is (Origin, Payload); Sender is excluded so relayed copies compare equal
type Message struct {
	Origin  ProcessID `json:"origin"`
	Sender  ProcessID `json:"sender"`
	Payload []byte    `json:"payload"`
}

// MessageKey is the comparable identity of a Message, usable as a map key
type MessageKey struct {
	Origin  ProcessID
	Payload string
}

// NewMessage() constructs a message originated and sent by the same process
func NewMessage(origin ProcessID, payload []byte) *Message {
	if payload == nil {
		payload = []byte{}
	}
	return &Message{Origin: origin, Sender: origin, Payload: payload}
}

// Key() returns the identity of the message
func (m *Message) Key() MessageKey {
	return MessageKey{Origin: m.Origin, Payload: string(m.Payload)}
}

// Equals() compares two messages by identity only
func (m *Message) Equals(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Origin == o.Origin && bytes.Equal(m.Payload, o.Payload)
}

// Relay() returns a copy of the message stamped with a new relaying sender
func (m *Message) Relay(sender ProcessID) *Message {
	return &Message{Origin: m.Origin, Sender: sender, Payload: bytes.Clone(m.Payload)}
}

// String() returns a short human-readable form used in logs
func (m *Message) String() string {
	return fmt.Sprintf("msg{origin=%d sender=%d payload=%x}", m.Origin, m.Sender, m.Payload)
}

// FIFO BELOW

// FIFOEnvelope is an application message plus the per-origin sequence number decoded from its payload
type FIFOEnvelope struct {
	*Message
	Seq int32 `json:"seq"`
}

// NewFIFOEnvelope() decodes the sequence number carried by a fifo payload
func NewFIFOEnvelope(m *Message) (*FIFOEnvelope, ErrorI) {
	if m == nil {
		return nil, ErrNilMessage()
	}
	if len(m.Payload) != fifoPayloadSize {
		return nil, ErrFIFOPayloadLength(len(m.Payload))
	}
	return &FIFOEnvelope{Message: m, Seq: int32(binary.BigEndian.Uint32(m.Payload))}, nil
}

// EncodeFIFOPayload() encodes a fifo sequence number as the message payload
func EncodeFIFOPayload(seq int32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, fifoPayloadSize), uint32(seq))
}

// Less() orders envelopes by sequence number
func (e *FIFOEnvelope) Less(o *FIFOEnvelope) bool { return e.Seq < o.Seq }

// CAUSAL BELOW

// VectorClock holds one counter per process, indexed by ProcessID-1
type VectorClock []int32

// NewVectorClock() returns a zeroed clock for n processes
func NewVectorClock(n int) VectorClock { return make(VectorClock, n) }

// Copy() returns an independent copy of the clock
func (v VectorClock) Copy() VectorClock { return append(VectorClock{}, v...) }

// Get() returns the component of a process
func (v VectorClock) Get(id ProcessID) int32 { return v[id-1] }

// LessOrEqual() returns true if every component of v is <= the matching component of o
func (v VectorClock) LessOrEqual(o VectorClock) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] > o[i] {
			return false
		}
	}
	return true
}

// Encode() serializes the clock as len(v) consecutive big-endian int32s
func (v VectorClock) Encode() []byte {
	bz := make([]byte, 0, len(v)*vectorEntrySize)
	for _, c := range v {
		bz = binary.BigEndian.AppendUint32(bz, uint32(c))
	}
	return bz
}

// DecodeVectorClock() parses a payload of n big-endian int32s
func DecodeVectorClock(payload []byte, n int) (VectorClock, ErrorI) {
	if len(payload) != n*vectorEntrySize {
		return nil, ErrVectorLength(n*vectorEntrySize, len(payload))
	}
	v := make(VectorClock, n)
	for i := range v {
		v[i] = int32(binary.BigEndian.Uint32(payload[i*vectorEntrySize:]))
	}
	return v, nil
}

// CausalEnvelope is the origin of a causal broadcast plus the vector clock snapshot it carried
type CausalEnvelope struct {
	Origin ProcessID   `json:"origin"`
	Vector VectorClock `json:"vector"`
}

// NewCausalEnvelope() decodes the vector clock carried by a causal payload of a membership of n processes
func NewCausalEnvelope(m *Message, n int) (*CausalEnvelope, ErrorI) {
	if m == nil {
		return nil, ErrNilMessage()
	}
	if m.Origin < 1 || int(m.Origin) > n {
		return nil, ErrInvalidProcessID(m.Origin)
	}
	v, err := DecodeVectorClock(m.Payload, n)
	if err != nil {
		return nil, err
	}
	return &CausalEnvelope{Origin: m.Origin, Vector: v}, nil
}

// Seq() is the 1-based position of this message among its origin's broadcasts
func (e *CausalEnvelope) Seq() int32 { return e.Vector.Get(e.Origin) + 1 }
