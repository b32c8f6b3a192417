package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/frame-relay/internal/frameclient"
	"github.com/kstaniek/frame-relay/internal/metrics"
	"github.com/kstaniek/frame-relay/internal/queue"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("frame-client %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	q := queue.New(cfg.queueCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	client := frameclient.New(cfg.serverAddr, q, frameclient.WithLogger(l))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Run(ctx); err != nil {
			l.Error("client_run_error", "error", err)
		}
	}()

	wg.Add(1)
	go drainFrames(ctx, q, cfg.saveDir, l, &wg)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	_ = client.Close()
	q.Halt()
	cancel()
	wg.Wait()
	l.Info("shutdown_summary", "frames_received", client.FramesReceived(), "reconnects", client.Reconnects())
}

// drainFrames consumes decoded frames from the queue, optionally writing
// each payload to disk, until the queue halts or ctx is cancelled.
func drainFrames(ctx context.Context, q *queue.FrameQueue, saveDir string, l interface {
	Info(string, ...any)
	Warn(string, ...any)
}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, err := q.Get(true, time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrHalted) {
				return
			}
			continue
		}
		if saveDir != "" {
			path := filepath.Join(saveDir, fmt.Sprintf("frame_%08d.raw", item.FrameNumber))
			if werr := os.WriteFile(path, item.Frame.Payload, 0o644); werr != nil {
				l.Warn("frame_save_failed", "path", path, "error", werr)
			}
		}
	}
}
