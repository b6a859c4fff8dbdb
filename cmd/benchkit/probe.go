package main

import (
	"os/signal"
	"syscall"

	"github.com/benchkit/benchkit/internal/bench"
	"github.com/benchkit/benchkit/internal/logging"
	"github.com/spf13/cobra"
)

var probeFlags struct {
	endpoint    string
	model       string
	numWords    int
	maxTokens   int
	count       int
	concurrency int
	logLevel    string
	logFormat   string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send test completion requests and report timing",
	Long: `Sends one or more completion requests with a synthetic prompt to the
serving endpoint and prints per-request timing. Use it to confirm the
endpoint is healthy before committing to a full sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Init(logging.Config{
			Format:    probeFlags.logFormat,
			Level:     probeFlags.logLevel,
			Component: "probe",
		})

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		probe := bench.NewProbe(bench.ProbeOptions{
			Endpoint:    probeFlags.endpoint,
			Model:       probeFlags.model,
			NumWords:    probeFlags.numWords,
			MaxTokens:   probeFlags.maxTokens,
			Count:       probeFlags.count,
			Concurrency: probeFlags.concurrency,
			Logger:      logger,
		})
		return probe.Run(ctx)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeFlags.endpoint, "endpoint", "http://localhost:8000/v1/completions", "Completions endpoint URL")
	probeCmd.Flags().StringVar(&probeFlags.model, "model", "", "Model name to request (required)")
	probeCmd.Flags().IntVar(&probeFlags.numWords, "num-words", 12000, "Words in the generated prompt")
	probeCmd.Flags().IntVar(&probeFlags.maxTokens, "max-tokens", 64, "Completion token budget per request")
	probeCmd.Flags().IntVar(&probeFlags.count, "count", 1, "Number of requests to send")
	probeCmd.Flags().IntVar(&probeFlags.concurrency, "concurrency", 1, "Maximum requests in flight")
	probeCmd.Flags().StringVar(&probeFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	probeCmd.Flags().StringVar(&probeFlags.logFormat, "log-format", "auto", "Log format: auto, console, json")
	_ = probeCmd.MarkFlagRequired("model")
}
