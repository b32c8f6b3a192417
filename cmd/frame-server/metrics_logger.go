package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/frame-relay/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_produced", snap.FramesProduced,
					"frames_sent", snap.FramesSent,
					"frames_received", snap.FramesReceived,
					"crc_failures", snap.CRCFailures,
					"resyncs", snap.Resyncs,
					"retransmits", snap.Retransmits,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
