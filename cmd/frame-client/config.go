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
	serverAddr      string
	queueCapacity   int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	saveDir         string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	server := flag.String("server", fmt.Sprintf("127.0.0.1:%d", frameserver.DefaultPort), "FrameServer address (host:port)")
	queueCap := flag.Int("queue-capacity", 30, "Incoming frame queue capacity")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address; empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	saveDir := flag.String("save-dir", "", "If set, write each received frame's raw payload under this directory")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.serverAddr = *server
	cfg.queueCapacity = *queueCap
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.saveDir = *saveDir

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
	if c.serverAddr == "" {
		return errors.New("server address must be set")
	}
	if c.queueCapacity <= 0 {
		return errors.New("queue-capacity must be > 0")
	}
	return nil
}

func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["server"]; !ok {
		if v, ok := get("FRAME_CLIENT_SERVER"); ok && v != "" {
			c.serverAddr = v
		}
	}
	if _, ok := set["queue-capacity"]; !ok {
		if v, ok := get("FRAME_CLIENT_QUEUE_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.queueCapacity = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_CLIENT_QUEUE_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("FRAME_CLIENT_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("FRAME_CLIENT_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FRAME_CLIENT_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("FRAME_CLIENT_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FRAME_CLIENT_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["save-dir"]; !ok {
		if v, ok := get("FRAME_CLIENT_SAVE_DIR"); ok {
			c.saveDir = v
		}
	}
	return firstErr
}
