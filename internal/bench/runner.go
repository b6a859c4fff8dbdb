package bench

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

// resultGlob matches the files the bench tool drops in the working
// directory when invoked with --save-result.
const resultGlob = "vllm-*.json"

// runBenchCommand executes the benchmark tool with stdout and stderr passed
// through so per-request progress is visible live. Variable for testing.
var runBenchCommand = func(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	WorkDir        string // where result files appear, defaults to "."
	ExperimentsDir string // defaults to "experiments"
	Logger         zerolog.Logger
	Clock          clock.Clock
}

// Runner executes an experiment's runs sequentially, archiving raw results
// and appending CSV rows as it goes.
type Runner struct {
	exp     *Experiment
	workDir string
	expDir  string
	logger  zerolog.Logger
	clock   clock.Clock
}

// NewRunner builds a Runner for exp.
func NewRunner(exp *Experiment, opts RunnerOptions) *Runner {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	experimentsDir := opts.ExperimentsDir
	if experimentsDir == "" {
		experimentsDir = "experiments"
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{
		exp:     exp,
		workDir: workDir,
		expDir:  filepath.Join(experimentsDir, exp.Setup.ShortExperimentName),
		logger:  opts.Logger,
		clock:   clk,
	}
}

func (r *Runner) csvPath() string        { return filepath.Join(r.expDir, "benchmark_results.csv") }
func (r *Runner) failedRunsPath() string { return filepath.Join(r.expDir, "failed_runs.json") }
func (r *Runner) rawResultsDir() string  { return filepath.Join(r.expDir, "raw_results") }

// Run executes the whole sweep. Failed runs are recorded and skipped; the
// only error paths are setup failures and context cancellation.
func (r *Runner) Run(ctx context.Context) error {
	runs := BuildRuns(&r.exp.Base, r.exp.Sweep)
	if len(runs) == 0 {
		r.logger.Warn().Msg("No benchmark runs generated, check the parameter_sweep values")
		return nil
	}

	if err := os.MkdirAll(r.expDir, 0o755); err != nil {
		return fmt.Errorf("create experiment dir: %w", err)
	}

	writer, err := newResultsWriter(r.csvPath())
	if err != nil {
		return err
	}
	defer writer.Close()

	r.logger.Info().
		Int("runs", len(runs)).
		Str("experiment", r.exp.Setup.ShortExperimentName).
		Msg("Generated benchmark runs")

	for i, run := range runs {
		result, err := r.runWithRetries(ctx, run)
		if err != nil {
			return err
		}
		if result == nil {
			r.logger.Error().
				Str("run_id", run.ID).
				Int("run", i+1).
				Int("total", len(runs)).
				Msg("Skipping results for failed run")
			continue
		}

		if err := writer.Append(run, result, r.clock.Now()); err != nil {
			return err
		}
		r.logger.Info().
			Str("run_id", run.ID).
			Int("run", i+1).
			Int("total", len(runs)).
			Msg("Saved results")

		// Cooldown between runs, but not after the last one.
		if i < len(runs)-1 {
			r.logger.Info().Dur("cooldown", r.exp.Setup.Cooldown()).Msg("GPU cooldown between runs")
			if err := r.sleep(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// runWithRetries returns a nil Result when every attempt failed; the run is
// then recorded in failed_runs.json. An error is returned only when ctx is
// cancelled.
func (r *Runner) runWithRetries(ctx context.Context, run Run) (*Result, error) {
	maxRetries := r.exp.Setup.Retries()
	logger := r.logger.With().Str("run_id", run.ID).Logger()

	argv := r.exp.Setup.CommandArgv()
	command := argv[0]
	args := append(argv[1:], r.commandArgs(run)...)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", maxRetries).
			Str("req_rate", run.ReqRate.String()).
			Int("input_len", run.InputLen).
			Int("output_len", run.OutputLen).
			Int("num_prompts", run.NumPrompts).
			Msg("Running benchmark")
		logger.Debug().
			Str("command", command+" "+strings.Join(args, " ")).
			Msg("Executing benchmark command")

		result, ok := r.attempt(ctx, command, args, run, logger)
		if ok {
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt < maxRetries {
			logger.Info().Dur("cooldown", r.exp.Setup.Cooldown()).Msg("Cooling down before retry")
			if err := r.sleep(ctx); err != nil {
				return nil, err
			}
		}
	}

	logger.Error().Int("attempts", maxRetries).Msg("Benchmark failed on all attempts")
	if err := r.logFailedRun(run); err != nil {
		logger.Error().Err(err).Msg("Failed to record failed run")
	}
	return nil, nil
}

// attempt executes the benchmark command once and evaluates the result file
// it drops. ok reports a successful, archived result.
func (r *Runner) attempt(ctx context.Context, command string, args []string, run Run, logger zerolog.Logger) (*Result, bool) {
	before, err := r.resultFiles()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to snapshot result files")
		return nil, false
	}

	start := r.clock.Now()
	if err := runBenchCommand(ctx, command, args...); err != nil {
		logger.Error().Err(err).Msg("Benchmark subprocess failed")
		return nil, false
	}
	logger.Info().Dur("took", r.clock.Since(start)).Msg("Benchmark command finished")

	after, err := r.resultFiles()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list result files")
		return nil, false
	}
	fresh := newEntries(after, before)
	if len(fresh) == 0 {
		logger.Error().Msg("Benchmark ran but no new result file was found")
		return nil, false
	}
	if len(fresh) > 1 {
		logger.Warn().Strs("files", fresh).Msg("Multiple new result files found, using the first")
	}
	resultFile := fresh[0]
	logger.Info().Str("file", resultFile).Msg("Found result file")

	result, err := parseResultFile(resultFile)
	if err != nil {
		// Keep the file around for inspection.
		logger.Error().Err(err).Str("file", resultFile).Msg("Result file unparsable")
		return nil, false
	}

	completed := result.Int("completed")
	failed := run.NumPrompts - completed
	if failed >= run.NumPrompts/200 {
		logger.Error().
			Int("completed", completed).
			Int("num_prompts", run.NumPrompts).
			Msg("Benchmark failed: failure rate above threshold")
		if err := os.Remove(resultFile); err != nil {
			logger.Warn().Err(err).Str("file", resultFile).Msg("Failed to remove partial result file")
		}
		return nil, false
	}

	logger.Info().
		Int("completed", completed).
		Int("num_prompts", run.NumPrompts).
		Msg("Benchmark successful")

	if err := r.archive(resultFile); err != nil {
		logger.Error().Err(err).Msg("Failed to archive result file")
		return nil, false
	}
	return result, true
}

// commandArgs builds the per-run benchmark tool arguments.
func (r *Runner) commandArgs(run Run) []string {
	args := []string{
		"--base-url", r.exp.Setup.URL(),
		"--backend", "vllm",
		"--model", run.Model,
		"--endpoint", "/v1/completions",
		"--tokenizer", run.Tokenizer,
		"--dataset-name", "random",
		"--random-input-len", strconv.Itoa(run.InputLen),
		"--random-output-len", strconv.Itoa(run.OutputLen),
		"--num-prompts", strconv.Itoa(run.NumPrompts),
		"--percentile-metrics", "ttft,tpot,itl,e2el",
		"--save-result",
		"--request-rate", run.ReqRate.String(),
	}
	if run.MaxConcurrency != nil {
		args = append(args, "--max-concurrency", strconv.Itoa(*run.MaxConcurrency))
	}
	if run.Goodput != "" {
		args = append(args, "--goodput")
		args = append(args, strings.Fields(run.Goodput)...)
	}
	return args
}

func (r *Runner) resultFiles() (map[string]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(r.workDir, resultGlob))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		set[m] = struct{}{}
	}
	return set, nil
}

func newEntries(after, before map[string]struct{}) []string {
	var fresh []string
	for path := range after {
		if _, ok := before[path]; !ok {
			fresh = append(fresh, path)
		}
	}
	sort.Strings(fresh)
	return fresh
}

func (r *Runner) archive(path string) error {
	if err := os.MkdirAll(r.rawResultsDir(), 0o755); err != nil {
		return fmt.Errorf("create raw results dir: %w", err)
	}
	dest := filepath.Join(r.rawResultsDir(), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("archive result file: %w", err)
	}
	r.logger.Info().Str("path", dest).Msg("Raw results archived")
	return nil
}

// logFailedRun appends the run config to failed_runs.json so exhausted runs
// can be replayed later.
func (r *Runner) logFailedRun(run Run) error {
	var failed []jsoniter.RawMessage
	if data, err := os.ReadFile(r.failedRunsPath()); err == nil && len(data) > 0 {
		if err := jsoniter.Unmarshal(data, &failed); err != nil {
			return fmt.Errorf("parse existing failed runs: %w", err)
		}
	}

	entry, err := jsoniter.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	failed = append(failed, entry)

	data, err := jsoniter.MarshalIndent(failed, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal failed runs: %w", err)
	}
	if err := os.WriteFile(r.failedRunsPath(), data, 0o644); err != nil {
		return fmt.Errorf("write failed runs: %w", err)
	}
	return nil
}

// sleep waits one cooldown period, honoring cancellation. Sleeps go through
// the clock so tests do not wait.
func (r *Runner) sleep(ctx context.Context) error {
	cooldown := r.exp.Setup.Cooldown()
	if cooldown <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(cooldown):
		return nil
	}
}
