package main

import (
	"context"
	"fmt"

	"github.com/kstaniek/frame-relay/internal/discovery"
)

func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	meta := []string{
		"source_kind=" + cfg.sourceKind,
		"version=" + version,
		"commit=" + commit,
	}
	cleanup, err := discovery.Advertise(ctx, cfg.mdnsName, port, meta)
	if err != nil {
		return nil, fmt.Errorf("mdns: %w", err)
	}
	return cleanup, nil
}
