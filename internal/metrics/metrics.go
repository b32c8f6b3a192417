// Package metrics exposes Prometheus counters/gauges for the frame-relay
// pipeline: CRC/protocol failures, resync events, queue depth, and client
// connect/disconnect counts. Modeled directly on the teacher's
// internal/metrics, including the local atomic mirror used for cheap
// in-process logging without scraping Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/frame-relay/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_produced_total",
		Help: "Total frames enqueued by a producer.",
	})
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_sent_total",
		Help: "Total FRAME packets sent by the server.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_received_total",
		Help: "Total FRAME packets successfully decoded by a client.",
	})
	CRCFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crc_failures_total",
		Help: "Total packets rejected due to CRC mismatch.",
	})
	ProtocolMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protocol_version_mismatches_total",
		Help: "Total packets rejected due to protocol version mismatch.",
	})
	ResyncEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resync_events_total",
		Help: "Total times the stream framer discarded its buffer and rescanned for the start magic.",
	})
	Retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retransmits_total",
		Help: "Total REQUEST packets sent by clients after a malformed or missing response.",
	})
	FrameDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_dropped_total",
		Help: "Total frames dropped after exceeding the retry budget.",
	})
	QueuePutTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_put_timeouts_total",
		Help: "Total Put calls that timed out waiting for queue space.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current number of items queued for delivery.",
	})
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clients_connected",
		Help: "Current number of connected TCP clients.",
	})
	ClientsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_accepted_total",
		Help: "Total TCP clients accepted.",
	})
	ClientsDisconnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clients_disconnected_total",
		Help: "Total TCP clients disconnected.",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconnect_attempts_total",
		Help: "Total client reconnect attempts.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrHandshake  = "handshake"
	ErrIO         = "io"
	ErrCRC        = "crc"
	ErrProtocol   = "protocol"
	ErrLength     = "length"
	ErrTimeout    = "timeout"
	ErrQueueEmpty = "queue_empty"
)

// local atomic mirrors for cheap in-process logging.
var (
	localFramesProduced uint64
	localFramesSent     uint64
	localFramesReceived uint64
	localCRCFailures    uint64
	localResync         uint64
	localRetransmits    uint64
	localErrors         uint64
)

// Snapshot is a cheap copy of local counters, used by periodic metrics
// logging when no Prometheus scraper is configured.
type Snapshot struct {
	FramesProduced uint64
	FramesSent     uint64
	FramesReceived uint64
	CRCFailures    uint64
	Resyncs        uint64
	Retransmits    uint64
	Errors         uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesProduced: atomic.LoadUint64(&localFramesProduced),
		FramesSent:     atomic.LoadUint64(&localFramesSent),
		FramesReceived: atomic.LoadUint64(&localFramesReceived),
		CRCFailures:    atomic.LoadUint64(&localCRCFailures),
		Resyncs:        atomic.LoadUint64(&localResync),
		Retransmits:    atomic.LoadUint64(&localRetransmits),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

func IncFramesProduced() {
	FramesProduced.Inc()
	atomic.AddUint64(&localFramesProduced, 1)
}

func IncFramesSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localFramesSent, 1)
}

func IncFramesReceived() {
	FramesReceived.Inc()
	atomic.AddUint64(&localFramesReceived, 1)
}

func IncCRCFailure() {
	CRCFailures.Inc()
	atomic.AddUint64(&localCRCFailures, 1)
}

func IncProtocolMismatch() { ProtocolMismatches.Inc() }

func IncResync() {
	ResyncEvents.Inc()
	atomic.AddUint64(&localResync, 1)
}

func IncRetransmit() {
	Retransmits.Inc()
	atomic.AddUint64(&localRetransmits, 1)
}

func IncFrameDrop() { FrameDrops.Inc() }

func IncQueuePutTimeout() { QueuePutTimeouts.Inc() }

func SetQueueDepth(n int) { QueueDepth.Set(float64(n)) }

func SetClientsConnected(n int) { ClientsConnected.Set(float64(n)) }

func IncClientAccepted() { ClientsAccepted.Inc() }

func IncClientDisconnected() { ClientsDisconnected.Inc() }

func IncReconnectAttempt() { ReconnectAttempts.Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first real error doesn't pay first-write registration cost.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrIO, ErrCRC, ErrProtocol, ErrLength, ErrTimeout, ErrQueueEmpty} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
