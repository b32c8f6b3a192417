// Package frameserver implements FrameServer: it accepts TCP clients and
// serves frames on request via the OK/REQUEST/HALT state machine. Grounded
// on the teacher's internal/server package for its accept loop, functional
// options, Ready()/Errors() channels, graceful Shutdown, and per-connection
// atomic counters; the per-connection request/response dispatch itself is
// grounded on the Python original's FrameTCPServerRequestHandler (the 1s
// poll-and-retry wait on an empty queue comes directly from there).
package frameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/frame-relay/internal/codec"
	"github.com/kstaniek/frame-relay/internal/framer"
	"github.com/kstaniek/frame-relay/internal/logging"
	"github.com/kstaniek/frame-relay/internal/metrics"
	"github.com/kstaniek/frame-relay/internal/packet"
	"github.com/kstaniek/frame-relay/internal/queue"
)

// Sentinel errors, wrapped for errors.Is classification.
var (
	ErrListen   = errors.New("listen")
	ErrAccept   = errors.New("accept")
	ErrConnRead = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
)

// DefaultPort is the protocol's default TCP port.
const DefaultPort = 47828

// emptyQueuePoll is how long a connection handler waits between polling an
// empty queue for a fresh frame, matching the 1-second poll interval
// described by the protocol's state machine.
const emptyQueuePoll = time.Second

// Server owns the TCP listener and serves the request/response loop to
// each connected client from a shared FrameQueue.
type Server struct {
	mu         sync.RWMutex
	addr       string
	queue      *queue.FrameQueue
	logger     *slog.Logger
	maxClients int

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	lastErrMu sync.Mutex
	lastErr   error

	listener   net.Listener
	clientsMu  sync.Mutex
	clients    map[net.Conn]struct{}
	wg         sync.WaitGroup
	nextConnID uint64

	totalAccepted     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// New constructs a Server bound to queue q (its shared outgoing frame
// source); apply Option values to override defaults.
func New(q *queue.FrameQueue, opts ...Option) *Server {
	s := &Server{
		addr:    fmt.Sprintf(":%d", DefaultPort),
		queue:   q,
		logger:  logging.L().With("component", "frame_server"),
		readyCh: make(chan struct{}),
		errCh:   make(chan error, 1),
		clients: make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithListenAddr sets the TCP listen address (default ":47828").
func WithListenAddr(addr string) Option { return func(s *Server) { s.addr = addr } }

// WithLogger overrides the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxClients bounds concurrent clients (0 = unlimited).
func WithMaxClients(n int) Option { return func(s *Server) { s.maxClients = n } }

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) setAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }

// Ready closes once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors surfaces listener/accept errors and per-connection read/write
// errors (ErrConnRead/ErrConnWrite); it holds at most one pending error.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// LastError returns the most recent error reported on Errors, if any.
func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve accepts clients until ctx is cancelled or a fatal listener error
// occurs.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	s.clientsMu.Lock()
	if s.maxClients > 0 && len(s.clients) >= s.maxClients {
		s.clientsMu.Unlock()
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	s.totalConnected.Add(1)
	metrics.IncClientAccepted()
	connLogger.Info("client_connected")
	s.wg.Add(1)
	go s.handleConn(ctx, conn, connLogger)
	return nil
}

// handleConn runs one connection's IDLE/DISPATCH loop until HALT, client
// disconnect, halt signal, or a fatal I/O error.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		s.totalDisconnected.Add(1)
		metrics.IncClientDisconnected()
		logger.Info("client_disconnected")
	}()

	fr := framer.New(conn)
	var current *queue.Item

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := fr.ReadPacket()
		if err != nil {
			if errors.Is(err, framer.ErrTimeout) {
				metrics.IncResync()
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
			s.setError(wrap)
			return
		}

		req, err := codec.Decode(raw)
		if err != nil {
			logger.Warn("malformed_request", "error", err)
			switch {
			case errors.Is(err, codec.ErrCRCMismatch):
				metrics.IncCRCFailure()
			case errors.Is(err, codec.ErrProtocolVersion):
				metrics.IncProtocolMismatch()
			}
			metrics.IncResync()
			continue
		}

		switch req.Type {
		case packet.OK:
			item, ok := s.pullNewFrame(ctx)
			if !ok {
				return
			}
			current = &item
			if err := s.sendFrame(conn, *current); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				s.setError(wrap)
				return
			}
		case packet.REQUEST:
			if current == nil {
				logger.Warn("request_with_no_current_frame")
				continue
			}
			if err := s.sendFrame(conn, *current); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				s.setError(wrap)
				return
			}
		case packet.HALT:
			logger.Info("client_halt")
			return
		default:
			logger.Warn("unexpected_packet_type", "type", req.Type)
		}
	}
}

// pullNewFrame blocks (polling every emptyQueuePoll) until a frame is
// available, the connection's context is cancelled, or the shared halt
// signal fires. It returns ok=false only when the handler should close.
func (s *Server) pullNewFrame(ctx context.Context) (queue.Item, bool) {
	for {
		item, err := s.queue.Get(true, emptyQueuePoll)
		if err == nil {
			metrics.SetQueueDepth(s.queue.Len())
			return item, true
		}
		if errors.Is(err, queue.ErrHalted) {
			return queue.Item{}, false
		}
		// queue.ErrEmpty: queue is live but empty, keep polling unless the
		// connection itself is shutting down.
		select {
		case <-ctx.Done():
			return queue.Item{}, false
		default:
		}
	}
}

func (s *Server) sendFrame(conn net.Conn, item queue.Item) error {
	fr := item.Frame
	fr.Type = packet.FRAME
	fr.FrameNumber = item.FrameNumber
	buf := codec.Codec{}.Encode(fr)
	if _, err := conn.Write(buf); err != nil {
		return err
	}
	metrics.IncFramesSent()
	return nil
}

// Shutdown closes the listener and all active connections, then waits for
// every handler goroutine to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load())
		return nil
	}
}
