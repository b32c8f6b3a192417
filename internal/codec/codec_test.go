package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/frame-relay/internal/packet"
)

// TestEncode_S1MinimalFrame checks the literal 34-byte encoding of a
// 2x2x3 u8 FRAME packet, including the corrected header byte (see
// packet.TestHeaderByte_S1Vector for why this implementation emits 0x9C
// rather than the source spec's typo'd 0xA4) and the corrected CRC-16/ARC
// value for twelve 0x04 bytes: 0x6F60, not the spec's typo'd 0x4FA3 (see
// crc16.TestARC_TwelveRepeatedBytes and DESIGN.md).
func TestEncode_S1MinimalFrame(t *testing.T) {
	p := packet.Packet{
		FrameNumber:  0x000000FA,
		Type:         packet.FRAME,
		ChannelCount: 3,
		DType:        packet.U8,
		Shape:        packet.Shape{Width: 2, Height: 2},
		Payload:      bytes.Repeat([]byte{0x04}, 12),
	}
	got := Codec{}.Encode(p)

	want := []byte{
		0x49, 0x4E, 0x55, // "INU"
		0x9C,             // HB: version=10, type=01, ch=11, dtype=00
		0xFA, 0x00, 0x00, 0x00, // frame_number
		0x02, 0x00, 0x02, 0x00, // width=2, height=2
		0x0C, 0x00, 0x00, 0x00, // payload_length=12
		0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04, 0x04,
		0x60, 0x6F, // CRC-16/ARC LE
		0x4E, 0x45, 0x4B, 0x4F, // "NEKO"
	}
	if len(got) != 34 {
		t.Fatalf("encoded length = %d, want 34", len(got))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded bytes mismatch:\n got  % X\n want % X", got, want)
	}
}

// TestCodec_S2EmptyPayloadRoundTrip: an OK packet with an empty payload
// encodes to exactly 22 bytes with CRC 0x0000, and decodes back equal.
func TestCodec_S2EmptyPayloadRoundTrip(t *testing.T) {
	p := packet.Packet{Type: packet.OK, ChannelCount: 0, DType: packet.U8}
	buf := Codec{}.Encode(p)
	if len(buf) != 22 {
		t.Fatalf("encoded length = %d, want 22", len(buf))
	}
	crcOff := len(buf) - 2 - len(EndMagic)
	if buf[crcOff] != 0 || buf[crcOff+1] != 0 {
		t.Fatalf("crc bytes = % X, want 00 00", buf[crcOff:crcOff+2])
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(p) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

// TestCodec_S3CorruptedCRC: flipping one bit in S1's payload bytes must
// surface as ErrCRCMismatch.
func TestCodec_S3CorruptedCRC(t *testing.T) {
	p := packet.Packet{
		FrameNumber:  0xFA,
		Type:         packet.FRAME,
		ChannelCount: 3,
		DType:        packet.U8,
		Shape:        packet.Shape{Width: 2, Height: 2},
		Payload:      bytes.Repeat([]byte{0x04}, 12),
	}
	buf := Codec{}.Encode(p)
	const payloadOff = 16
	buf[payloadOff] ^= 0x01

	_, err := Decode(buf)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("Decode() error = %v, want ErrCRCMismatch", err)
	}
}

func TestRoundTrip_VariousShapes(t *testing.T) {
	cases := []packet.Packet{
		{Type: packet.OK},
		{Type: packet.FRAME, ChannelCount: 1, DType: packet.U8, Shape: packet.Shape{Width: 4, Height: 3}, Payload: make([]byte, 12)},
		{Type: packet.FRAME, ChannelCount: 3, DType: packet.F32, Shape: packet.Shape{Width: 2, Height: 2}, Payload: make([]byte, 2*2*3*4)},
		{Type: packet.REQUEST},
		{Type: packet.HALT},
	}
	for i, p := range cases {
		buf := Codec{}.Encode(p)
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if !got.Equal(p) {
			t.Fatalf("case %d: round trip mismatch:\n got  %+v\n want %+v", i, got, p)
		}
	}
}

func TestDecode_ProtocolVersionMismatch(t *testing.T) {
	p := packet.Packet{Type: packet.OK}
	buf := Codec{}.Encode(p)
	buf[3] &^= 0xC0 // clear version bits -> 0b00, not the accepted 0b10
	_, err := Decode(buf)
	if !errors.Is(err, ErrProtocolVersion) {
		t.Fatalf("Decode() error = %v, want ErrProtocolVersion", err)
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	p := packet.Packet{Type: packet.FRAME, ChannelCount: 1, DType: packet.U8, Shape: packet.Shape{Width: 2, Height: 2}, Payload: make([]byte, 4)}
	buf := Codec{}.Encode(p)
	// Truncate the payload by one byte without fixing payload_length.
	buf = append(buf[:16], buf[17:]...)
	_, err := Decode(buf)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("Decode() error = %v, want ErrLengthMismatch", err)
	}
}

func TestDecode_MagicMismatch(t *testing.T) {
	p := packet.Packet{Type: packet.OK}
	buf := Codec{}.Encode(p)
	buf[0] = 'X'
	_, err := Decode(buf)
	if !errors.Is(err, ErrMagicMismatch) {
		t.Fatalf("Decode() error = %v, want ErrMagicMismatch", err)
	}

	buf2 := Codec{}.Encode(p)
	buf2[len(buf2)-1] = 'X'
	_, err = Decode(buf2)
	if !errors.Is(err, ErrMagicMismatch) {
		t.Fatalf("Decode() end-magic error = %v, want ErrMagicMismatch", err)
	}
}
