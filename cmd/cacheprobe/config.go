package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
	"github.com/JohnPlummer/jp-go-cache-resilience/workload"
)

// memoryEndpoint selects the in-process store instead of a server.
const memoryEndpoint = "memory"

type config struct {
	endpoint        string
	host            string
	identity        string
	mode            workload.Mode
	logLevel        string
	logFormat       string
	metricsFile     string
	port            int
	maxRetries      int
	retryDelay      time.Duration
	connectTimeout  time.Duration
	commandTimeout  time.Duration
	duration        time.Duration
	monitorInterval time.Duration
}

// readConfig merges positional arguments with the flag/env/file settings
// held by viper.
func readConfig(args []string) (*config, error) {
	modeArg := ""
	if len(args) > 2 {
		modeArg = args[2]
	}
	mode, err := workload.ParseMode(modeArg)
	if err != nil {
		return nil, err
	}

	cfg := &config{
		endpoint:        args[0],
		identity:        args[1],
		mode:            mode,
		logLevel:        viper.GetString("log-level"),
		logFormat:       viper.GetString("log-format"),
		metricsFile:     viper.GetString("metrics-file"),
		port:            viper.GetInt("port"),
		maxRetries:      viper.GetInt("max-retries"),
		retryDelay:      viper.GetDuration("retry-delay"),
		connectTimeout:  viper.GetDuration("connect-timeout"),
		commandTimeout:  viper.GetDuration("command-timeout"),
		duration:        viper.GetDuration("duration"),
		monitorInterval: viper.GetDuration("monitor-interval"),
	}

	if cfg.identity == "" {
		return nil, fmt.Errorf("identity must not be empty")
	}

	host, port, err := parseEndpoint(cfg.endpoint)
	if err != nil {
		return nil, err
	}
	cfg.host = host
	if port != 0 {
		cfg.port = port
	}

	return cfg, nil
}

// parseEndpoint accepts "host" or "host:port". A zero port means the
// endpoint did not specify one.
func parseEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, fmt.Errorf("endpoint must not be empty")
	}
	if !strings.Contains(endpoint, ":") {
		return endpoint, 0, nil
	}

	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint port %q: %w", portStr, err)
	}
	return host, port, nil
}

func (c *config) clientOptions() []resilience.Option {
	return []resilience.Option{
		resilience.WithPort(c.port),
		resilience.WithMaxRetries(c.maxRetries),
		resilience.WithBaseRetryDelay(c.retryDelay),
		resilience.WithConnectTimeout(c.connectTimeout),
		resilience.WithCommandTimeout(c.commandTimeout),
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: expected text or json", format)
	}
}
