// Package discovery advertises a FrameServer over mDNS so clients on the
// local network can find it without a hardcoded address. Grounded on the
// teacher's cmd/can-server/mdns.go, generalized from a main-package helper
// into a reusable package since both the server and (for symmetric
// discovery-based connects) the client benefit from it.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type frame-server instances advertise
// under.
const ServiceType = "_frame-relay._tcp"

// Advertise registers instance (or a hostname-derived default) under
// ServiceType at port, with meta rendered as TXT records. It returns a
// cleanup func that unregisters the service; safe to call even if ctx is
// already done.
func Advertise(ctx context.Context, instance string, port int, meta []string) (func(), error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("frame-server-%s", host)
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

// Discover browses for frame-server instances for up to timeout and returns
// the addresses ("host:port") of any it finds.
func Discover(ctx context.Context, timeout time.Duration) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	var addrs []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if len(e.AddrIPv4) == 0 {
				continue
			}
			addrs = append(addrs, fmt.Sprintf("%s:%d", e.AddrIPv4[0].String(), e.Port))
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := resolver.Browse(browseCtx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-browseCtx.Done()
	<-done
	return addrs, nil
}
