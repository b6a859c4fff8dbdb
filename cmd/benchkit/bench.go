package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/benchkit/benchkit/internal/bench"
	"github.com/benchkit/benchkit/internal/logging"
	"github.com/spf13/cobra"
)

var benchFlags struct {
	workDir        string
	experimentsDir string
	logLevel       string
	logFormat      string
}

var benchCmd = &cobra.Command{
	Use:   "bench <experiment.yaml>",
	Short: "Run a parameter-sweep benchmark experiment",
	Long: `Loads an experiment file, expands its parameter sweep into individual
benchmark runs, executes them sequentially against the configured endpoint
and appends config+result rows to the experiment CSV. Failed runs are
retried with a GPU cooldown and recorded when all attempts fail.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Init(logging.Config{
			Format:    benchFlags.logFormat,
			Level:     benchFlags.logLevel,
			Component: "bench",
		})

		exp, err := bench.Load(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		runner := bench.NewRunner(exp, bench.RunnerOptions{
			WorkDir:        benchFlags.workDir,
			ExperimentsDir: benchFlags.experimentsDir,
			Logger:         logger,
		})
		if err := runner.Run(ctx); err != nil {
			if err == context.Canceled {
				logger.Warn().Msg("Experiment interrupted")
				return nil
			}
			return fmt.Errorf("experiment failed: %w", err)
		}

		logger.Info().Str("experiment", exp.Setup.ShortExperimentName).Msg("Experiment finished")
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchFlags.workDir, "workdir", ".", "Directory where the benchmark tool drops result files")
	benchCmd.Flags().StringVar(&benchFlags.experimentsDir, "experiments-dir", "experiments", "Directory experiment outputs are collected under")
	benchCmd.Flags().StringVar(&benchFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	benchCmd.Flags().StringVar(&benchFlags.logFormat, "log-format", "auto", "Log format: auto, console, json")
}
