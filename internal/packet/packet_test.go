package packet

import "testing"

func TestHeaderByte_PackUnpackRoundTrip(t *testing.T) {
	cases := []Packet{
		{Type: OK, ChannelCount: 0, DType: U8},
		{Type: FRAME, ChannelCount: 3, DType: U8},
		{Type: REQUEST, ChannelCount: 1, DType: F32},
		{Type: HALT, ChannelCount: 2, DType: F64},
	}
	for _, p := range cases {
		hb := p.HeaderByte()
		version, typ, channels, dtype := ParseHeaderByte(hb)
		if version != ProtocolVersion {
			t.Fatalf("version = %02b, want %02b", version, ProtocolVersion)
		}
		if typ != p.Type || channels != p.ChannelCount || dtype != p.DType {
			t.Fatalf("roundtrip mismatch: got (%s,%d,%s), want (%s,%d,%s)", typ, channels, dtype, p.Type, p.ChannelCount, p.DType)
		}
	}
}

// S1's header byte, per its own prose ("version=10, type=01, ch=11,
// dtype=00"), packs to 0x9C: 0b10_01_11_00. The hex dump alongside that
// prose in the source spec literally shows 0xA4, which decodes to
// type=0b10 (REQUEST) rather than FRAME and is inconsistent with the
// prose's own field breakdown; 0x9C is what this implementation produces
// and is treated as the correct value (see the design log).
func TestHeaderByte_S1Vector(t *testing.T) {
	p := Packet{Type: FRAME, ChannelCount: 3, DType: U8}
	if got, want := p.HeaderByte(), byte(0x9C); got != want {
		t.Fatalf("HeaderByte() = %#02x, want %#02x", got, want)
	}
}

func TestPayloadLen(t *testing.T) {
	p := Packet{ChannelCount: 3, DType: U8, Shape: Shape{Width: 2, Height: 2}}
	if got, want := p.PayloadLen(), 12; got != want {
		t.Fatalf("PayloadLen() = %d, want %d", got, want)
	}
	empty := Packet{ChannelCount: 0, DType: U8, Shape: Shape{Width: 2, Height: 2}}
	if got := empty.PayloadLen(); got != 0 {
		t.Fatalf("PayloadLen() for zero channels = %d, want 0", got)
	}
}

func TestDimensions_ChannelAxis(t *testing.T) {
	mono := Packet{ChannelCount: 1, Shape: Shape{Width: 4, Height: 3}}
	h, w, ch, has := mono.Dimensions()
	if h != 3 || w != 4 || ch != 1 || has {
		t.Fatalf("mono Dimensions() = (%d,%d,%d,%v), want (3,4,1,false)", h, w, ch, has)
	}
	rgb := Packet{ChannelCount: 3, Shape: Shape{Width: 4, Height: 3}}
	_, _, _, has = rgb.Dimensions()
	if !has {
		t.Fatalf("rgb Dimensions() hasChannelAxis = false, want true")
	}
}

func TestEqual(t *testing.T) {
	a := Packet{FrameNumber: 1, Type: FRAME, ChannelCount: 1, DType: U8, Shape: Shape{1, 1}, Payload: []byte{9}}
	b := a
	b.Payload = []byte{9}
	if !a.Equal(b) {
		t.Fatalf("expected equal packets to compare equal")
	}
	b.Payload = []byte{8}
	if a.Equal(b) {
		t.Fatalf("expected payload mismatch to compare unequal")
	}
}
