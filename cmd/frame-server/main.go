package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/frame-relay/internal/frameserver"
	"github.com/kstaniek/frame-relay/internal/metrics"
	"github.com/kstaniek/frame-relay/internal/producer"
	"github.com/kstaniek/frame-relay/internal/queue"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("frame-server %s (commit %s, built %s)\n", version, commit, date)
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

	prod, err := newProducer(cfg, q)
	if err != nil {
		l.Error("producer_init_error", "error", err)
		return
	}
	if err := prod.Start(ctx); err != nil {
		l.Error("producer_start_error", "error", err)
		return
	}
	defer func() { _ = prod.Close() }()

	srv := frameserver.New(q,
		frameserver.WithListenAddr(cfg.listenAddr),
		frameserver.WithLogger(l),
		frameserver.WithMaxClients(cfg.maxClients),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := portFromAddr(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	q.Halt()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
}

func newProducer(cfg *appConfig, q *queue.FrameQueue) (producer.Producer, error) {
	switch cfg.sourceKind {
	case "camera":
		dec := producer.NewV4L2Decoder(cfg.width, cfg.height)
		return producer.NewCameraReader(dec, q, cfg.source), nil
	default:
		dec := producer.NewRawFileDecoder(cfg.width, cfg.height, cfg.channels)
		return producer.NewFileVideoReader(dec, q, cfg.source, cfg.loop), nil
	}
}

func portFromAddr(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
			return pn
		}
	}
	return 0
}
