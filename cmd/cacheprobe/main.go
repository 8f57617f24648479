// Command cacheprobe exercises a remote cache through the resilient client,
// either with a fixed-duration synthetic load or with an indefinite
// connectivity monitor.
//
//	cacheprobe <endpoint> <identity> [load|monitor]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
	"github.com/JohnPlummer/jp-go-cache-resilience/memstore"
	"github.com/JohnPlummer/jp-go-cache-resilience/promobserver"
	"github.com/JohnPlummer/jp-go-cache-resilience/redistransport"
	"github.com/JohnPlummer/jp-go-cache-resilience/workload"
)

var rootCmd = &cobra.Command{
	Use:   "cacheprobe <endpoint> <identity> [load|monitor]",
	Short: "Exercise a cache endpoint through a failover-resilient client",
	Long: `cacheprobe keeps a single resilient connection to a cache endpoint and
either drives a synthetic load (load) or polls connectivity every few seconds
(monitor, the default). Use the endpoint "memory" to run against an
in-process store.`,
	Example: "  cacheprobe cache.example.com student01 load\n  cacheprobe cache.example.com:6380 student01",
	Args:    cobra.RangeArgs(2, 3),
	RunE:    run,
}

var cfgFile string

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("log-format", "text", "the log format (text or json)")
	configFlags.Int("port", resilience.DefaultPort, "the cache port, unless the endpoint carries one")
	configFlags.Int("max-retries", resilience.DefaultMaxRetries, "attempts per operation, including the first")
	configFlags.Duration("retry-delay", resilience.DefaultBaseRetryDelay, "delay before the first retry, doubled on each retry")
	configFlags.Duration("connect-timeout", resilience.DefaultConnectTimeout, "timeout of a single connection attempt")
	configFlags.Duration("command-timeout", resilience.DefaultCommandTimeout, "timeout of a single command")
	configFlags.Duration("duration", workload.DefaultLoadDuration, "how long load mode runs")
	configFlags.Duration("monitor-interval", workload.DefaultMonitorInterval, "period of monitor mode")
	configFlags.String("metrics-file", "", "write client metrics in Prometheus text format to this file on exit")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("cacheprobe")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg, err := readConfig(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.logLevel, cfg.logFormat)
	if err != nil {
		return err
	}

	// Arguments are valid from here on; runtime failures do not need usage.
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	observer, err := promobserver.New(registry)
	if err != nil {
		return err
	}

	var dialer resilience.Dialer
	if cfg.host == memoryEndpoint {
		logger.Warn("using in-process memory store, no server is contacted")
		dialer = memstore.New().Dialer()
	} else {
		dialer = redistransport.NewDialer(redistransport.WithLogger(logger))
	}

	opts := append(cfg.clientOptions(),
		resilience.WithLogger(logger),
		resilience.WithObserver(observer),
	)
	client := resilience.NewClient(cfg.host, dialer, opts...)

	logger.Info("store client configured",
		"endpoint", cfg.endpoint,
		"identity", cfg.identity,
		"mode", cfg.mode)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		if cfg.metricsFile != "" {
			if err := prometheus.WriteToTextfile(cfg.metricsFile, registry); err != nil {
				logger.Warn("failed to write metrics file", "path", cfg.metricsFile, "error", err)
			}
		}
	}()

	if _, err := client.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted before the initial connectivity check completed")
			return nil
		}
		return fmt.Errorf("initial connectivity check failed: %w", err)
	}
	logger.Info("initial connectivity confirmed")

	runner := workload.NewRunner(client, cfg.identity,
		workload.WithLogger(logger),
		workload.WithMonitorInterval(cfg.monitorInterval),
	)

	switch cfg.mode {
	case workload.ModeLoad:
		summary := runner.Load(ctx, cfg.duration)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	default:
		err := runner.Monitor(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
