package framer

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kstaniek/frame-relay/internal/codec"
	"github.com/kstaniek/frame-relay/internal/packet"
)

// fakeConn is a minimal deadlineReader backed by an in-memory buffer; it
// never actually enforces the deadline (reads are instantaneous), so it
// exercises the framer's scanning logic without real timing.
type fakeConn struct {
	buf *bytes.Reader
}

func (f *fakeConn) Read(p []byte) (int, error)            { return f.buf.Read(p) }
func (f *fakeConn) SetReadDeadline(t time.Time) error      { return nil }

func encodeTestPacket(frameNumber uint32, payload byte) []byte {
	p := packet.Packet{
		FrameNumber:  frameNumber,
		Type:         packet.FRAME,
		ChannelCount: 1,
		DType:        packet.U8,
		Shape:        packet.Shape{Width: 2, Height: 2},
		Payload:      bytes.Repeat([]byte{payload}, 4),
	}
	return codec.Codec{}.Encode(p)
}

// TestReadPacket_GarbageFraming mirrors the garbage-framing scenario: a
// leading run of non-magic bytes, a valid packet, a packet whose payload
// has been corrupted after encoding, and another valid packet. The framer
// itself only locates magic-delimited byte ranges; CRC validation is the
// codec's job, so the corrupted packet's raw bytes still come back cleanly
// from ReadPacket and only fail later at Decode.
func TestReadPacket_GarbageFraming(t *testing.T) {
	good1 := encodeTestPacket(1, 0x04)
	corrupt := encodeTestPacket(2, 0x05)
	corrupt[16] ^= 0x01 // flip a payload bit, CRC now stale
	good3 := encodeTestPacket(3, 0x06)

	var stream bytes.Buffer
	stream.Write([]byte{0xFF, 0xFF})
	stream.Write(good1)
	stream.Write(corrupt)
	stream.Write(good3)

	fr := New(&fakeConn{buf: bytes.NewReader(stream.Bytes())})

	raw1, err := fr.ReadPacket()
	if err != nil {
		t.Fatalf("packet 1: ReadPacket: %v", err)
	}
	p1, err := codec.Decode(raw1)
	if err != nil || p1.FrameNumber != 1 {
		t.Fatalf("packet 1: Decode: %v, frame=%d", err, p1.FrameNumber)
	}

	raw2, err := fr.ReadPacket()
	if err != nil {
		t.Fatalf("packet 2: ReadPacket: %v", err)
	}
	if _, err := codec.Decode(raw2); !errors.Is(err, codec.ErrCRCMismatch) {
		t.Fatalf("packet 2: Decode error = %v, want ErrCRCMismatch", err)
	}

	raw3, err := fr.ReadPacket()
	if err != nil {
		t.Fatalf("packet 3: ReadPacket: %v", err)
	}
	p3, err := codec.Decode(raw3)
	if err != nil || p3.FrameNumber != 3 {
		t.Fatalf("packet 3: Decode: %v, frame=%d", err, p3.FrameNumber)
	}

	if _, err := fr.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadPacket() at stream end = %v, want io.EOF", err)
	}
}
