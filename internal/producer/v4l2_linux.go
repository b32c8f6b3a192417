//go:build linux

package producer

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/frame-relay/internal/packet"
)

// V4L2Decoder is a VideoDecoder backed by a Video4Linux2 capture device: it
// opens /dev/videoN, negotiates a fixed MJPEG-free raw RGB24 format, maps a
// small ring of kernel capture buffers, and streams frames via
// VIDIOC_DQBUF/VIDIOC_QBUF. Grounded on the teacher's internal/socketcan
// device, which opens a raw AF_CAN socket directly via golang.org/x/sys/unix
// ioctl/syscall primitives rather than a cgo wrapper; the same approach
// applies here since V4L2 is itself a fixed ioctl-based kernel ABI.
type V4L2Decoder struct {
	fd      int
	width   int
	height  int
	bufs    [][]byte
	started bool
}

// v4l2CaptureBufs is the number of mmap'd kernel buffers requested.
const v4l2CaptureBufs = 4

// NewV4L2Decoder constructs a decoder that will request frames of the given
// pixel dimensions in RGB24 (3 bytes/pixel).
func NewV4L2Decoder(width, height int) *V4L2Decoder {
	return &V4L2Decoder{width: width, height: height, fd: -1}
}

// Open opens source (a device path, e.g. "/dev/video0", or a bare device
// index such as "0", which opens /dev/video0), negotiates the capture
// format, maps the buffer ring, and starts streaming.
func (d *V4L2Decoder) Open(source string) error {
	if d.fd >= 0 {
		_ = d.Close()
	}
	if source != "" && strings.Trim(source, "0123456789") == "" {
		source = "/dev/video" + source
	}
	fd, err := unix.Open(source, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	d.fd = fd

	fmtReq := v4l2Format{
		Type: v4l2BufTypeVideoCapture,
	}
	fmtReq.Pix.Width = uint32(d.width)
	fmtReq.Pix.Height = uint32(d.height)
	fmtReq.Pix.Pixelformat = v4l2PixFmtRGB24
	fmtReq.Pix.Field = v4l2FieldNone
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&fmtReq)); err != nil {
		_ = unix.Close(fd)
		d.fd = -1
		return fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}

	reqbuf := v4l2RequestBuffers{
		Count:  v4l2CaptureBufs,
		Type:   v4l2BufTypeVideoCapture,
		Memory: v4l2MemoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&reqbuf)); err != nil {
		_ = unix.Close(fd)
		d.fd = -1
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}

	d.bufs = make([][]byte, reqbuf.Count)
	for i := uint32(0); i < reqbuf.Count; i++ {
		buf := v4l2Buffer{Index: i, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
		if err := ioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			_ = unix.Close(fd)
			d.fd = -1
			return fmt.Errorf("VIDIOC_QUERYBUF: %w", err)
		}
		mem, err := unix.Mmap(d.fd, int64(buf.M.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = unix.Close(fd)
			d.fd = -1
			return fmt.Errorf("mmap buf %d: %w", i, err)
		}
		d.bufs[i] = mem
		if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			_ = unix.Close(fd)
			d.fd = -1
			return fmt.Errorf("VIDIOC_QBUF %d: %w", i, err)
		}
	}

	streamType := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&streamType)); err != nil {
		_ = unix.Close(fd)
		d.fd = -1
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	d.started = true
	return nil
}

// ReadFrame blocks (via poll) for the next filled buffer, copies it out, and
// re-queues the kernel buffer for reuse.
func (d *V4L2Decoder) ReadFrame() (packet.Packet, error) {
	if !d.started {
		return packet.Packet{}, fmt.Errorf("v4l2: not open")
	}
	pfd := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, 2000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return packet.Packet{}, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return packet.Packet{}, fmt.Errorf("v4l2: capture timeout")
		}
		break
	}

	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return packet.Packet{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}

	payload := make([]byte, buf.BytesUsed)
	copy(payload, d.bufs[buf.Index][:buf.BytesUsed])

	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return packet.Packet{}, fmt.Errorf("VIDIOC_QBUF requeue: %w", err)
	}

	return packet.Packet{
		Type:         packet.FRAME,
		ChannelCount: 3,
		DType:        packet.U8,
		Shape:        packet.Shape{Width: uint16(d.width), Height: uint16(d.height)},
		Payload:      payload,
	}, nil
}

// Close stops streaming, unmaps buffers, and closes the device fd.
func (d *V4L2Decoder) Close() error {
	if d.fd < 0 {
		return nil
	}
	if d.started {
		streamType := uint32(v4l2BufTypeVideoCapture)
		_ = ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&streamType))
		d.started = false
	}
	for _, mem := range d.bufs {
		_ = unix.Munmap(mem)
	}
	d.bufs = nil
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
