//go:build !linux

package producer

import (
	"errors"

	"github.com/kstaniek/frame-relay/internal/packet"
)

// errUnsupportedPlatform is returned by V4L2Decoder on non-Linux builds,
// where there is no V4L2 ioctl ABI to bind against.
var errUnsupportedPlatform = errors.New("v4l2 capture is only supported on linux")

// V4L2Decoder is a stub on non-Linux platforms; every operation fails.
type V4L2Decoder struct{}

func NewV4L2Decoder(width, height int) *V4L2Decoder { return &V4L2Decoder{} }

func (d *V4L2Decoder) Open(source string) error             { return errUnsupportedPlatform }
func (d *V4L2Decoder) ReadFrame() (packet.Packet, error)     { return packet.Packet{}, errUnsupportedPlatform }
func (d *V4L2Decoder) Close() error                          { return nil }
