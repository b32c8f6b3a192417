// Package producer implements the FrameProducer capability: three variants
// (file-backed video, camera device, network client) that all fill a shared
// FrameQueue with (frame_number, frame) pairs. The variants share the
// Producer interface; dynamic dispatch happens only at the configuration
// boundary, where one variant is chosen.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/frame-relay/internal/logging"
	"github.com/kstaniek/frame-relay/internal/metrics"
	"github.com/kstaniek/frame-relay/internal/packet"
	"github.com/kstaniek/frame-relay/internal/queue"
)

// ErrIO reports a source open/read failure, e.g. "couldn't open video feed".
var ErrIO = errors.New("producer: io error")

// VideoDecoder abstracts a video source that yields successive decoded
// frames. Decoding itself (container parsing, codecs, color conversion) is
// explicitly out of scope for this module and is delegated to whatever
// concrete decoder the caller registers; this interface is the seam.
type VideoDecoder interface {
	// Open (re)initializes the decoder against source (a file path or
	// camera device index rendered as a string).
	Open(source string) error
	// ReadFrame returns the next frame, or io.EOF at end of stream.
	ReadFrame() (packet.Packet, error)
	// Close releases underlying resources.
	Close() error
}

// Producer is the capability every variant implements.
type Producer interface {
	// Start begins filling the configured FrameQueue; it returns once the
	// background work is launched, not once it completes.
	Start(ctx context.Context) error
	// GetShape returns the shape of the first decoded frame, or false if no
	// frame has been decoded yet.
	GetShape() (height, width int, ok bool)
	// ChangeFeed atomically swaps the source: the current read loop halts,
	// reinitializes against newSource, and resumes with frame_number
	// restarting at 0.
	ChangeFeed(newSource string) error
	// Close releases resources. NetworkClient stops its client first.
	// FileVideoReader and CameraReader do not stop their read loop
	// themselves: Close waits until the loop has ended (the ctx given to
	// Start is done, the queue is halted, or the source fails or ends) and
	// then closes the decoder.
	Close() error
}

const interFrameSleep = 50 * time.Millisecond

// FileVideoReader reads frames sequentially from a video file via a
// VideoDecoder, optionally looping, sleeping ~50ms between frames to
// approximate real-time playback. Grounded on the teacher's serial RX loop
// (cmd/can-server/backend_serial.go): accumulate/decode/backoff, with a
// reset channel standing in for the serial backend's fatal-vs-transient
// error split.
type FileVideoReader struct {
	decoder VideoDecoder
	queue   *queue.FrameQueue
	loop    bool
	logger  *slog.Logger

	mu         sync.Mutex
	source     string
	resetCh    chan string
	shapeH     atomic.Int64
	shapeW     atomic.Int64
	shapeKnown atomic.Bool
	wg         sync.WaitGroup
}

// NewFileVideoReader constructs a reader for source using decoder, depositing
// frames into q. If loop is true, the reader rewinds to the start on EOF.
func NewFileVideoReader(decoder VideoDecoder, q *queue.FrameQueue, source string, loop bool) *FileVideoReader {
	return &FileVideoReader{
		decoder: decoder,
		queue:   q,
		loop:    loop,
		source:  source,
		logger:  logging.L().With("component", "file_video_reader"),
		resetCh: make(chan string, 1),
	}
}

func (r *FileVideoReader) Start(ctx context.Context) error {
	r.mu.Lock()
	source := r.source
	r.mu.Unlock()
	if err := r.decoder.Open(source); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

func (r *FileVideoReader) run(ctx context.Context) {
	defer r.wg.Done()
	var frameNumber uint32
	for {
		select {
		case <-ctx.Done():
			return
		case newSource := <-r.resetCh:
			_ = r.decoder.Close()
			if err := r.decoder.Open(newSource); err != nil {
				r.logger.Error("reopen_failed", "source", newSource, "error", err)
				return
			}
			frameNumber = 0
			r.shapeKnown.Store(false)
			continue
		default:
		}

		fr, err := r.decoder.ReadFrame()
		if err != nil {
			if r.loop {
				if reopenErr := r.decoder.Open(r.currentSource()); reopenErr != nil {
					r.logger.Error("loop_reopen_failed", "error", reopenErr)
					return
				}
				continue
			}
			r.logger.Info("video_eof", "frames_read", frameNumber)
			return
		}

		fr.FrameNumber = frameNumber
		if !r.shapeKnown.Load() {
			h, w, _, _ := fr.Dimensions()
			r.shapeH.Store(int64(h))
			r.shapeW.Store(int64(w))
			r.shapeKnown.Store(true)
		}

		if err := r.queue.Put(queue.Item{FrameNumber: frameNumber, Frame: fr}, true, time.Second); err != nil {
			if errors.Is(err, queue.ErrHalted) {
				return
			}
			metrics.IncQueuePutTimeout()
		} else {
			metrics.IncFramesProduced()
		}
		frameNumber++

		select {
		case <-ctx.Done():
			return
		case <-time.After(interFrameSleep):
		}
	}
}

func (r *FileVideoReader) currentSource() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

func (r *FileVideoReader) GetShape() (height, width int, ok bool) {
	if !r.shapeKnown.Load() {
		return 0, 0, false
	}
	return int(r.shapeH.Load()), int(r.shapeW.Load()), true
}

// ChangeFeed raises the reset signal so the reader loop swaps sources and
// restarts frame numbering at 0, without terminating the overall producer.
func (r *FileVideoReader) ChangeFeed(newSource string) error {
	r.mu.Lock()
	r.source = newSource
	r.mu.Unlock()
	select {
	case r.resetCh <- newSource:
	default:
	}
	return nil
}

func (r *FileVideoReader) Close() error {
	r.wg.Wait()
	return r.decoder.Close()
}

// CameraReader reads frames from a live camera device index. Unlike
// FileVideoReader it never loops and never sleeps between frames (capture
// rate is set by the device), and a failed open is immediately fatal.
type CameraReader struct {
	decoder VideoDecoder
	queue   *queue.FrameQueue
	logger  *slog.Logger

	mu      sync.Mutex
	device  string
	resetCh chan string
	wg      sync.WaitGroup

	shapeH, shapeW atomic.Int64
	shapeKnown     atomic.Bool
}

// NewCameraReader constructs a reader for the given camera device index
// (rendered as a string, e.g. "0").
func NewCameraReader(decoder VideoDecoder, q *queue.FrameQueue, device string) *CameraReader {
	return &CameraReader{
		decoder: decoder,
		queue:   q,
		device:  device,
		logger:  logging.L().With("component", "camera_reader"),
		resetCh: make(chan string, 1),
	}
}

func (r *CameraReader) Start(ctx context.Context) error {
	r.mu.Lock()
	device := r.device
	r.mu.Unlock()
	if err := r.decoder.Open(device); err != nil {
		return fmt.Errorf("%w: couldn't open video feed: %v", ErrIO, err)
	}
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

func (r *CameraReader) run(ctx context.Context) {
	defer r.wg.Done()
	var frameNumber uint32
	for {
		select {
		case <-ctx.Done():
			return
		case newDevice := <-r.resetCh:
			_ = r.decoder.Close()
			if err := r.decoder.Open(newDevice); err != nil {
				r.logger.Error("reopen_failed", "device", newDevice, "error", err)
				return
			}
			frameNumber = 0
			r.shapeKnown.Store(false)
			continue
		default:
		}

		fr, err := r.decoder.ReadFrame()
		if err != nil {
			r.logger.Warn("camera_read_error", "error", err)
			return
		}

		fr.FrameNumber = frameNumber
		if !r.shapeKnown.Load() {
			h, w, _, _ := fr.Dimensions()
			r.shapeH.Store(int64(h))
			r.shapeW.Store(int64(w))
			r.shapeKnown.Store(true)
		}

		if err := r.queue.Put(queue.Item{FrameNumber: frameNumber, Frame: fr}, true, time.Second); err != nil {
			if errors.Is(err, queue.ErrHalted) {
				return
			}
			metrics.IncQueuePutTimeout()
		} else {
			metrics.IncFramesProduced()
		}
		frameNumber++
	}
}

func (r *CameraReader) GetShape() (height, width int, ok bool) {
	if !r.shapeKnown.Load() {
		return 0, 0, false
	}
	return int(r.shapeH.Load()), int(r.shapeW.Load()), true
}

func (r *CameraReader) ChangeFeed(newDevice string) error {
	r.mu.Lock()
	r.device = newDevice
	r.mu.Unlock()
	select {
	case r.resetCh <- newDevice:
	default:
	}
	return nil
}

func (r *CameraReader) Close() error {
	r.wg.Wait()
	return r.decoder.Close()
}
