package lib

import (
	"encoding/binary"
	"fmt"
)

/*
	Link frames are the datagrams exchanged by a perfect link, big-endian fixed-width:

	byte 0      : frame kind (0 = ACK, 1 = DATA)
	bytes 1-4   : link sequence number
	-- DATA only --
	bytes 5-8   : origin process id
	bytes 9-12  : relaying sender process id
	bytes 13-.. : application payload
*/

const (
	FrameHeaderSize     = 5
	DataFrameHeaderSize = FrameHeaderSize + 8
)

// FrameKind tags a frame as an acknowledgement or a data carrying frame
type FrameKind byte

const (
	FrameAck  FrameKind = 0
	FrameData FrameKind = 1
)

func (k FrameKind) String() string {
	switch k {
	case FrameAck:
		return "ACK"
	case FrameData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(k))
	}
}

// Frame is the transport-level envelope of a perfect link
type Frame struct {
	Kind    FrameKind
	Seq     int32
	Message *Message // nil for acknowledgements
}

// MessageIdentity identifies a data frame at the receiving side of a link
type MessageIdentity struct {
	Sender ProcessID
	Seq    int32
}

// NewDataFrame() frames an application message under a link sequence number
func NewDataFrame(seq int32, m *Message) *Frame {
	return &Frame{Kind: FrameData, Seq: seq, Message: m}
}

// Ack() returns the acknowledgement for a data frame
func (f *Frame) Ack() *Frame {
	return &Frame{Kind: FrameAck, Seq: f.Seq}
}

// Size() is the encoded length of the frame
func (f *Frame) Size() int {
	if f.Kind != FrameData {
		return FrameHeaderSize
	}
	return DataFrameHeaderSize + len(f.Message.Payload)
}

// Marshal() encodes the frame to its wire form
func (f *Frame) Marshal() ([]byte, ErrorI) {
	switch f.Kind {
	case FrameAck:
	case FrameData:
		if f.Message == nil {
			return nil, ErrNilMessage()
		}
	default:
		return nil, ErrUnknownFrameKind(byte(f.Kind))
	}
	bz := make([]byte, 0, f.Size())
	bz = append(bz, byte(f.Kind))
	bz = binary.BigEndian.AppendUint32(bz, uint32(f.Seq))
	if f.Kind == FrameData {
		bz = binary.BigEndian.AppendUint32(bz, uint32(f.Message.Origin))
		bz = binary.BigEndian.AppendUint32(bz, uint32(f.Message.Sender))
		bz = append(bz, f.Message.Payload...)
	}
	return bz, nil
}

// UnmarshalFrame() decodes a wire frame; the payload is copied so the input buffer may be reused
func UnmarshalFrame(bz []byte) (*Frame, ErrorI) {
	if len(bz) < FrameHeaderSize {
		return nil, ErrShortFrame(len(bz))
	}
	f := &Frame{Kind: FrameKind(bz[0]), Seq: int32(binary.BigEndian.Uint32(bz[1:FrameHeaderSize]))}
	switch f.Kind {
	case FrameAck:
		return f, nil
	case FrameData:
		if len(bz) < DataFrameHeaderSize {
			return nil, ErrShortFrame(len(bz))
		}
		payload := make([]byte, len(bz)-DataFrameHeaderSize)
		copy(payload, bz[DataFrameHeaderSize:])
		f.Message = &Message{
			Origin:  ProcessID(int32(binary.BigEndian.Uint32(bz[5:9]))),
			Sender:  ProcessID(int32(binary.BigEndian.Uint32(bz[9:13]))),
			Payload: payload,
		}
		return f, nil
	default:
		return nil, ErrUnknownFrameKind(bz[0])
	}
}
