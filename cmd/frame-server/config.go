package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/frame-relay/internal/frameserver"
)

type appConfig struct {
	listenAddr      string
	source          string
	sourceKind      string // file|camera
	loop            bool
	width           int
	height          int
	channels        int
	queueCapacity   int
	maxClients      int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", fmt.Sprintf(":%d", frameserver.DefaultPort), "TCP listen address")
	source := flag.String("source", "", "Video source: file path or camera device path")
	sourceKind := flag.String("source-kind", "file", "Source kind: file|camera")
	loop := flag.Bool("loop", true, "Loop the file source at end of stream")
	width := flag.Int("width", 640, "Frame width in pixels")
	height := flag.Int("height", 480, "Frame height in pixels")
	channels := flag.Int("channels", 3, "Frame channel count (1-3)")
	queueCap := flag.Int("queue-capacity", 30, "Outgoing frame queue capacity")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default frame-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.source = *source
	cfg.sourceKind = *sourceKind
	cfg.loop = *loop
	cfg.width = *width
	cfg.height = *height
	cfg.channels = *channels
	cfg.queueCapacity = *queueCap
	cfg.maxClients = *maxClients
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.sourceKind {
	case "file", "camera":
	default:
		return fmt.Errorf("invalid source-kind: %s", c.sourceKind)
	}
	if c.source == "" {
		return errors.New("source must be set")
	}
	if c.width <= 0 || c.height <= 0 {
		return errors.New("width/height must be > 0")
	}
	if c.channels <= 0 || c.channels > 3 {
		return errors.New("channels must be in 1..3")
	}
	if c.queueCapacity <= 0 {
		return errors.New("queue-capacity must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps FRAME_SERVER_* environment variables onto cfg
// unless the equivalent flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("FRAME_SERVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["source"]; !ok {
		if v, ok := get("FRAME_SERVER_SOURCE"); ok && v != "" {
			c.source = v
		}
	}
	if _, ok := set["source-kind"]; !ok {
		if v, ok := get("FRAME_SERVER_SOURCE_KIND"); ok && v != "" {
			c.sourceKind = v
		}
	}
	if _, ok := set["width"]; !ok {
		if v, ok := get("FRAME_SERVER_WIDTH"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.width = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_SERVER_WIDTH: %w", err)
			}
		}
	}
	if _, ok := set["height"]; !ok {
		if v, ok := get("FRAME_SERVER_HEIGHT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.height = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_SERVER_HEIGHT: %w", err)
			}
		}
	}
	if _, ok := set["channels"]; !ok {
		if v, ok := get("FRAME_SERVER_CHANNELS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.channels = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_SERVER_CHANNELS: %w", err)
			}
		}
	}
	if _, ok := set["queue-capacity"]; !ok {
		if v, ok := get("FRAME_SERVER_QUEUE_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.queueCapacity = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_SERVER_QUEUE_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("FRAME_SERVER_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_SERVER_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("FRAME_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("FRAME_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FRAME_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("FRAME_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("FRAME_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("FRAME_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
