// Package codec implements bit/byte-exact serialization and deserialization
// of a single frame-relay packet: magic framing, bit-packed header byte,
// payload-length field, CRC-16/ARC, and end magic word. Stateless and safe
// for concurrent use, in the manner of the cannelloni codec it is modeled
// on (internal/cnl).
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/frame-relay/internal/crc16"
	"github.com/kstaniek/frame-relay/internal/packet"
)

// StartMagic and EndMagic frame every packet on the wire.
var (
	StartMagic = [3]byte{'I', 'N', 'U'}
	EndMagic   = [4]byte{'N', 'E', 'K', 'O'}
)

const (
	headerLen  = len(StartMagic) + 1 + 4 + 2 + 2 + 4 // start + HB + frame_number + width + height + payload_length
	trailerLen = 2 + len(EndMagic)                   // crc + end magic
)

// Error kinds. Decode wraps each with positional context via fmt.Errorf's
// %w, so callers classify them with errors.Is.
var (
	ErrMagicMismatch    = errors.New("codec: magic mismatch")
	ErrProtocolVersion  = errors.New("codec: protocol version mismatch")
	ErrCRCMismatch      = errors.New("codec: crc mismatch")
	ErrLengthMismatch   = errors.New("codec: payload length mismatch")
	ErrBufferTooShort   = errors.New("codec: buffer too short")
)

// Codec encodes/decodes frame-relay packets. It holds no state.
type Codec struct{}

// Encode serializes p into a freshly allocated byte buffer. It does not
// mutate p. Invariant: Decode(Encode(p)) equals p field-for-field for any
// well-formed p (see Packet.Equal).
func (Codec) Encode(p packet.Packet) []byte {
	l := p.PayloadLen()
	buf := make([]byte, headerLen+l+trailerLen)

	off := 0
	off += copy(buf[off:], StartMagic[:])
	buf[off] = p.HeaderByte()
	off++
	binary.LittleEndian.PutUint32(buf[off:], p.FrameNumber)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], p.Shape.Width)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], p.Shape.Height)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(l))
	off += 4
	off += copy(buf[off:], p.Payload)

	crc := crc16.ARC(p.Payload)
	binary.LittleEndian.PutUint16(buf[off:], crc)
	off += 2
	off += copy(buf[off:], EndMagic[:])

	return buf
}

// Decode parses buf as a single frame-relay packet. buf must contain exactly
// one packet's bytes (start magic through end magic, no surrounding data);
// the stream framer is responsible for locating those boundaries.
func Decode(buf []byte) (packet.Packet, error) {
	p := packet.Placeholder()

	if len(buf) < headerLen+trailerLen {
		return p, fmt.Errorf("%w: have %d bytes, need at least %d", ErrBufferTooShort, len(buf), headerLen+trailerLen)
	}
	if string(buf[0:3]) != string(StartMagic[:]) {
		return p, fmt.Errorf("%w: bad start word", ErrMagicMismatch)
	}

	hb := buf[3]
	version, typ, channels, dtype := packet.ParseHeaderByte(hb)
	if version != packet.ProtocolVersion {
		return p, fmt.Errorf("%w: got %02b, want %02b", ErrProtocolVersion, version, packet.ProtocolVersion)
	}

	frameNumber := binary.LittleEndian.Uint32(buf[4:8])
	width := binary.LittleEndian.Uint16(buf[8:10])
	height := binary.LittleEndian.Uint16(buf[10:12])
	payloadLen := binary.LittleEndian.Uint32(buf[12:16])

	wantLen := headerLen + int(payloadLen) + trailerLen
	if len(buf) != wantLen {
		return p, fmt.Errorf("%w: payload_length=%d implies total %d bytes, got %d", ErrLengthMismatch, payloadLen, wantLen, len(buf))
	}

	payload := buf[16 : 16+int(payloadLen)]
	crcOff := 16 + int(payloadLen)
	storedCRC := binary.LittleEndian.Uint16(buf[crcOff : crcOff+2])

	endOff := crcOff + 2
	if string(buf[endOff:endOff+4]) != string(EndMagic[:]) {
		return p, fmt.Errorf("%w: bad end word", ErrMagicMismatch)
	}

	gotCRC := crc16.ARC(payload)
	if gotCRC != storedCRC {
		return p, fmt.Errorf("%w: got %#04x, want %#04x", ErrCRCMismatch, gotCRC, storedCRC)
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	p.Type = typ
	p.ChannelCount = channels
	p.DType = dtype
	p.FrameNumber = frameNumber
	p.Shape = packet.Shape{Width: width, Height: height}
	p.Payload = payloadCopy
	p.CRC = storedCRC
	return p, nil
}
