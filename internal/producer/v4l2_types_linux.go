//go:build linux

package producer

// V4L2 ioctl request codes and wire structs, taken from the fixed kernel
// ABI in linux/videodev2.h. Hardcoded rather than generated since this
// module avoids cgo; values assume a 64-bit little-endian target, matching
// the assumption the teacher's socketcan device already makes about the
// kernel's struct can_frame layout.
const (
	vidiocSFmt      = 0xc0d05605
	vidiocReqBufs   = 0xc0145608
	vidiocQueryBuf  = 0xc0585609
	vidiocQBuf      = 0xc058560f
	vidiocDQBuf     = 0xc0585611
	vidiocStreamOn  = 0x40045612
	vidiocStreamOff = 0x40045613
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2PixFmtRGB24         = 0x33424752 // 'RGB3'
	v4l2FieldNone           = 1
)

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	Pixelformat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YCbCrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format: a type tag followed by a union
// whose largest member (raw_data) is 200 bytes. The union holds pointers, so
// on a 64-bit target it starts at offset 8; the blank fields supply that
// alignment gap and the remainder behind Pix, giving the kernel's 208 bytes.
type v4l2Format struct {
	Type uint32
	_    [4]byte
	Pix  v4l2PixFormat
	_    [200 - 48]byte
}

type v4l2RequestBuffers struct {
	Count    uint32
	Type     uint32
	Memory   uint32
	reserved [2]uint32
}

type v4l2Timeval struct {
	Sec  int64
	Usec int64
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

// v4l2Buffer mirrors struct v4l2_buffer for the mmap/offset union case
// (Memory == v4l2MemoryMmap), where m.offset is the only populated union
// member.
type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp v4l2Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	M         struct {
		Offset uint32
		_      [4]byte
	}
	Length    uint32
	Reserved2 uint32
	Reserved  uint32
}
