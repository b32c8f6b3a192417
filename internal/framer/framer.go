// Package framer locates packet boundaries in an arbitrary byte stream: it
// scans for the start magic word, then reads until the end magic word or a
// deadline. Modeled on the resync loop in the teacher's serial codec
// (advance-and-retry on a misaligned or malformed buffer) but adapted to
// read from a deadline-bearing net.Conn instead of an in-memory
// bytes.Buffer, since a TCP stream has no natural frame boundary markers of
// its own.
package framer

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/kstaniek/frame-relay/internal/codec"
)

// MaxReadDuration bounds the total time spent extracting a single packet
// once extraction begins, per the protocol's timeout policy.
const MaxReadDuration = 30 * time.Second

// ErrTimeout is returned when MaxReadDuration elapses before a complete
// packet is read. Callers treat it as a soft failure: log and resync.
var ErrTimeout = errors.New("framer: timed out waiting for packet")

// deadlineReader is the minimal capability Framer needs from a connection:
// byte-oriented reads plus a settable absolute read deadline.
type deadlineReader interface {
	Read(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// Framer extracts one packet's raw bytes at a time from a stream, honoring
// the protocol's start/end magic words and 30s extraction timeout.
type Framer struct {
	r deadlineReader
}

// New wraps a connection (or anything offering a read deadline, such as
// *net.TCPConn) in a Framer.
func New(r deadlineReader) *Framer {
	return &Framer{r: r}
}

// ReadPacket extracts one packet's bytes (start magic through end magic,
// inclusive) and returns them undecoded; the caller passes them to
// codec.Decode and, on a decode error, resyncs by calling ReadPacket again.
// On timeout it returns ErrTimeout. On a closed or otherwise broken
// connection it returns the underlying I/O error.
func (f *Framer) ReadPacket() (raw []byte, err error) {
	deadline := time.Now().Add(MaxReadDuration)
	if err := f.r.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	start, err := f.readStartWord(deadline)
	if err != nil {
		return nil, err
	}

	rest, err := f.readUntilEndWord(deadline)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(start)+len(rest))
	buf = append(buf, start...)
	buf = append(buf, rest...)
	return buf, nil
}

// readStartWord reads bytes one at a time until the trailing window equals
// the start magic, or deadline/EOF is hit.
func (f *Framer) readStartWord(deadline time.Time) ([]byte, error) {
	window := make([]byte, 0, len(codec.StartMagic))
	one := make([]byte, 1)
	for {
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		n, err := f.r.Read(one)
		if n == 1 {
			if len(window) == len(codec.StartMagic) {
				copy(window, window[1:])
				window = window[:len(window)-1]
			}
			window = append(window, one[0])
			if len(window) == len(codec.StartMagic) && string(window) == string(codec.StartMagic[:]) {
				return window, nil
			}
		}
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			return nil, err
		}
	}
}

// readUntilEndWord accumulates bytes until the buffer's tail equals the end
// magic, or deadline/EOF is hit.
func (f *Framer) readUntilEndWord(deadline time.Time) ([]byte, error) {
	var buf []byte
	one := make([]byte, 1)
	endLen := len(codec.EndMagic)
	for {
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		n, err := f.r.Read(one)
		if n == 1 {
			buf = append(buf, one[0])
			if len(buf) >= endLen && string(buf[len(buf)-endLen:]) == string(codec.EndMagic[:]) {
				return buf, nil
			}
		}
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, err
		}
	}
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
