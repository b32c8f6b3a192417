// Package packet defines the frame-relay wire packet: its field set, the
// closed enumerations for packet type and payload element type, and the
// bit-packed header byte layout. Encoding/decoding to bytes lives in the
// sibling codec package; this package only holds the data model and the
// named bit offsets, kept explicit per the protocol's own design notes
// rather than folded into ad-hoc shifts at each call site.
package packet

import "fmt"

// Type is the packet's role in the request/response state machine.
type Type uint8

const (
	OK Type = iota
	FRAME
	REQUEST
	HALT
)

func (t Type) String() string {
	switch t {
	case OK:
		return "OK"
	case FRAME:
		return "FRAME"
	case REQUEST:
		return "REQUEST"
	case HALT:
		return "HALT"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// DType is the closed set of primitive element types a payload may carry.
type DType uint8

const (
	U8 DType = iota
	I32
	F32
	F64
)

func (d DType) String() string {
	switch d {
	case U8:
		return "U8"
	case I32:
		return "I32"
	case F32:
		return "F32"
	case F64:
		return "F64"
	default:
		return fmt.Sprintf("DType(%d)", uint8(d))
	}
}

// Size returns the element size in bytes for d.
func (d DType) Size() int {
	switch d {
	case U8:
		return 1
	case I32, F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// ProtocolVersion is the only version this codec accepts; bumped if a
// future wire layout breaks compatibility (see design note on endianness).
const ProtocolVersion = 0b10

// Header-byte bit layout (MSB first): version(2) | type(2) | channels(2) | dtype(2).
const (
	bitVersion  = 6
	bitType     = 4
	bitChannels = 2
	bitDType    = 0

	maskVersion  = 0b11
	maskType     = 0b11
	maskChannels = 0b11
	maskDType    = 0b11
)

// Shape is the (width, height) pair carried on the wire; the channel axis is
// carried separately as ChannelCount.
type Shape struct {
	Width  uint16
	Height uint16
}

// Packet is the central protocol entity: one frame (or control message) plus
// its framing metadata. It is immutable after construction except for the
// reserved placeholder used internally by the decoder before field
// assignment (see Placeholder).
type Packet struct {
	FrameNumber  uint32
	Type         Type
	ChannelCount uint8 // 0..3; 0 reserved for empty payloads
	DType        DType
	Shape        Shape
	Payload      []byte // raw row-major bytes, len == PayloadLen() (Width*Height*ChannelCount*DType.Size(); 0 when ChannelCount is 0)
	CRC          uint16
}

// Placeholder returns a zero-value packet suitable as a decode target before
// fields are assigned. It mirrors the protocol's own reserved construction
// used only inside the decoder.
func Placeholder() Packet {
	return Packet{Type: OK, DType: U8}
}

// HeaderByte packs version, type, channel count and dtype into one byte.
// It does not validate ChannelCount/DType ranges; callers construct them
// from closed enumerations so out-of-range values should not occur.
func (p Packet) HeaderByte() byte {
	return byte(ProtocolVersion&maskVersion)<<bitVersion |
		byte(p.Type)&maskType<<bitType |
		p.ChannelCount&maskChannels<<bitChannels |
		byte(p.DType)&maskDType<<bitDType
}

// ParseHeaderByte unpacks hb into (version, type, channelCount, dtype).
func ParseHeaderByte(hb byte) (version uint8, typ Type, channels uint8, dtype DType) {
	version = (hb >> bitVersion) & maskVersion
	typ = Type((hb >> bitType) & maskType)
	channels = (hb >> bitChannels) & maskChannels
	dtype = DType((hb >> bitDType) & maskDType)
	return
}

// PayloadLen returns the expected payload length in bytes for the packet's
// declared shape, channel count and dtype.
func (p Packet) PayloadLen() int {
	if p.ChannelCount == 0 {
		return 0
	}
	return int(p.Shape.Width) * int(p.Shape.Height) * int(p.ChannelCount) * p.DType.Size()
}

// Dimensions returns the external (height, width, channels) view used by the
// surrounding image-processing layer. hasChannelAxis is false when
// ChannelCount==1, in which case the payload reshapes to a 2-D array.
func (p Packet) Dimensions() (height, width, channels int, hasChannelAxis bool) {
	height = int(p.Shape.Height)
	width = int(p.Shape.Width)
	channels = int(p.ChannelCount)
	hasChannelAxis = p.ChannelCount != 1
	return
}

// Equal reports whether p and other are identical field-for-field,
// including payload bytes (used by round-trip tests).
func (p Packet) Equal(other Packet) bool {
	if p.FrameNumber != other.FrameNumber || p.Type != other.Type ||
		p.ChannelCount != other.ChannelCount || p.DType != other.DType ||
		p.Shape != other.Shape || p.CRC != other.CRC {
		return false
	}
	if len(p.Payload) != len(other.Payload) {
		return false
	}
	for i := range p.Payload {
		if p.Payload[i] != other.Payload[i] {
			return false
		}
	}
	return true
}
