package producer

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kstaniek/frame-relay/internal/packet"
)

// RawFileDecoder is the in-tree default VideoDecoder: it reads a file of
// concatenated fixed-shape raw U8 frames (width*height*channels bytes each,
// row-major), with no container or codec parsing. Real deployments register
// a decoder backed by an external video library at this same seam; this one
// exists so the producer and pipeline can be exercised without one.
type RawFileDecoder struct {
	Width, Height, Channels int

	f *os.File
	r *bufio.Reader
}

// NewRawFileDecoder constructs a decoder for frames of the given shape.
func NewRawFileDecoder(width, height, channels int) *RawFileDecoder {
	return &RawFileDecoder{Width: width, Height: height, Channels: channels}
}

func (d *RawFileDecoder) Open(source string) error {
	if d.f != nil {
		_ = d.f.Close()
	}
	f, err := os.Open(source)
	if err != nil {
		return err
	}
	d.f = f
	d.r = bufio.NewReader(f)
	return nil
}

func (d *RawFileDecoder) ReadFrame() (packet.Packet, error) {
	if d.r == nil {
		return packet.Packet{}, fmt.Errorf("rawfile: not open")
	}
	frameLen := d.Width * d.Height * d.Channels
	buf := make([]byte, frameLen)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return packet.Packet{}, io.EOF
		}
		return packet.Packet{}, err
	}
	channelCount := d.Channels
	if channelCount == 0 {
		channelCount = 1
	}
	return packet.Packet{
		Type:         packet.FRAME,
		ChannelCount: uint8(channelCount),
		DType:        packet.U8,
		Shape:        packet.Shape{Width: uint16(d.Width), Height: uint16(d.Height)},
		Payload:      buf,
	}, nil
}

func (d *RawFileDecoder) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	d.r = nil
	return err
}
