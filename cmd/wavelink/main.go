// Command wavelink sends and receives live audio over UDP.
//
// The tx subcommand captures from a local input device and streams to a
// peer; rx binds a port, plays whatever arrives, and conceals losses.
// Run both against each other for a one-way voice link, or point tx at
// the echo subcommand to measure a round trip.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opd-ai/wavelink/observe"
)

var version = "0.3.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "wavelink",
	Short: "Low-latency audio streaming over UDP",
	Long: `wavelink streams live audio between two hosts over UDP.

The sending side captures from a microphone or line input and transmits
raw PCM, one chunk per datagram. The receiving side reorders and
schedules arriving frames, conceals losses with silence, and plays the
stream with a small fixed delay. Both sides must be configured with the
same stream shape (rate, channels, format, chunk size).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		pf := cmd.Root().PersistentFlags()
		for key, flag := range map[string]string{
			"log_level":    "log-level",
			"log_file":     "log-file",
			"metrics_addr": "metrics-addr",
		} {
			if err := viper.BindPFlag(key, pf.Lookup(flag)); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
		if err := loadConfigFile(cfgFile); err != nil {
			return err
		}
		return setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wavelink v%s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./wavelink.yaml, $HOME/.config/wavelink/wavelink.yaml)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-file", "", "also write logs to this file, with rotation")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(rxCmd)
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging configures the process-wide logger from the merged
// settings. With a log file set, output goes to stderr and a rotating
// file at once.
func setupLogging() error {
	lvl, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if path := viper.GetString("log_file"); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}
	return nil
}

// signalContext returns a context canceled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startMetrics installs the OpenTelemetry meter provider and serves the
// Prometheus scrape endpoint when an address is configured. The returned
// stop func flushes the provider and stops the server; it is a no-op
// when metrics are disabled.
func startMetrics(ctx context.Context, addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logrus.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close()
		if err := shutdown(flushCtx); err != nil {
			logrus.WithError(err).Warn("Metrics shutdown failed")
		}
	}, nil
}
