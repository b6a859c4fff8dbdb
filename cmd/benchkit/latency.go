package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/benchkit/benchkit/internal/latency"
	"github.com/benchkit/benchkit/internal/logging"
	"github.com/spf13/cobra"
)

var latencyFlags struct {
	pattern   string
	watch     bool
	logLevel  string
	logFormat string
}

var latencyCmd = &cobra.Command{
	Use:   "latency <logfile>",
	Short: "Extract latency statistics from a benchmark log",
	Long: `Scans a benchmark log for latency samples and prints count, mean,
min, max and percentiles. With --watch the summary is reprinted whenever
the log file changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Init(logging.Config{
			Format:    latencyFlags.logFormat,
			Level:     latencyFlags.logLevel,
			Component: "latency",
		})

		var re *regexp.Regexp
		if latencyFlags.pattern != "" {
			var err error
			re, err = regexp.Compile(latencyFlags.pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
		}

		path := args[0]
		if !latencyFlags.watch {
			return latency.Analyze(path, re, os.Stdout)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		watcher := latency.NewWatcher(path, re, os.Stdout, logger)
		if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	latencyCmd.Flags().StringVar(&latencyFlags.pattern, "pattern", "", "Sample regexp; the first capture group is the value (defaults to latency[:=] lines)")
	latencyCmd.Flags().BoolVar(&latencyFlags.watch, "watch", false, "Reprint the summary whenever the log changes")
	latencyCmd.Flags().StringVar(&latencyFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	latencyCmd.Flags().StringVar(&latencyFlags.logFormat, "log-format", "auto", "Log format: auto, console, json")
}
