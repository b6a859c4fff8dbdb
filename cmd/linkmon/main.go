// Command linkmon polls interconnect traffic counters and prints per-device
// throughput to stdout at a fixed interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benchkit/benchkit/internal/counters"
	"github.com/benchkit/benchkit/internal/logging"
	"github.com/benchkit/benchkit/internal/sampler"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	osExit  = os.Exit
	runFunc = run
)

// Config holds the monitor configuration assembled from flags and env.
type Config struct {
	Sources   []string
	Interval  time.Duration
	Patterns  []string
	Once      bool
	SysfsRoot string
	NvidiaSMI string
	LogLevel  string
	LogFormat string
}

type multiValue []string

func (m *multiValue) String() string {
	return strings.Join(*m, ",")
}

func (m *multiValue) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	// A local .env can supply LINKMON_* variables during development.
	_ = godotenv.Load()

	cfg, showVersion, err := parseConfig(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		if err == flag.ErrHelp {
			osExit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		osExit(1)
	}

	if showVersion {
		fmt.Println(Version)
		osExit(0)
	}

	if err := runFunc(context.Background(), cfg); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		osExit(1)
	}
}

func run(ctx context.Context, cfg Config) error {
	logger := logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "linkmon",
	})

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Str("version", Version).
		Strs("sources", cfg.Sources).
		Dur("interval", cfg.Interval).
		Bool("once", cfg.Once).
		Msg("Starting link monitor")

	monitor := sampler.New(sampler.Config{
		Interval: cfg.Interval,
		Once:     cfg.Once,
		Patterns: cfg.Patterns,
		Logger:   logger,
	}, sources...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("monitor terminated with error: %w", err)
	}

	logger.Info().Msg("Link monitor stopped")
	return nil
}

// buildSources constructs one counter source per requested name. A source
// that cannot be constructed (missing vendor CLI, no sysfs class directory)
// is a startup error rather than garbage rates later.
func buildSources(cfg Config) ([]counters.Source, error) {
	sources := make([]counters.Source, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		switch name {
		case "nvlink":
			source, err := counters.NewNVLink(counters.NVLinkOptions{Command: cfg.NvidiaSMI})
			if err != nil {
				return nil, fmt.Errorf("set up nvlink source: %w", err)
			}
			sources = append(sources, source)
		case "rdma":
			source, err := counters.NewRDMA(cfg.SysfsRoot)
			if err != nil {
				return nil, fmt.Errorf("set up rdma source: %w", err)
			}
			sources = append(sources, source)
		case "netdev":
			sources = append(sources, counters.NewNetdev())
		default:
			return nil, fmt.Errorf("unknown source %q: must be nvlink, rdma, or netdev", name)
		}
	}
	return sources, nil
}

func parseConfig(progName string, args []string, getenv func(string) string) (Config, bool, error) {
	getenvTrim := func(k string) string {
		return strings.TrimSpace(getenv(k))
	}

	envSources := getenvTrim("LINKMON_SOURCES")
	envInterval := getenvTrim("LINKMON_INTERVAL")
	envDevices := getenvTrim("LINKMON_DEVICES")
	envOnce := getenvTrim("LINKMON_ONCE")
	envSysfs := getenvTrim("LINKMON_SYSFS")
	envNvidiaSMI := getenvTrim("LINKMON_NVIDIA_SMI")
	envLogLevel := getenvTrim("LINKMON_LOG_LEVEL")
	envLogFormat := getenvTrim("LINKMON_LOG_FORMAT")

	defaultInterval := time.Second
	if envInterval != "" {
		if parsed, err := time.ParseDuration(envInterval); err == nil {
			defaultInterval = parsed
		}
	}

	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	intervalFlag := fs.Duration("interval", defaultInterval, "Polling interval (e.g. 1s, 500ms)")
	onceFlag := fs.Bool("once", parseBool(envOnce), "Report a single delta and exit")
	sysfsFlag := fs.String("sysfs", envSysfs, "Sysfs root for the rdma source (defaults to /sys)")
	nvidiaSMIFlag := fs.String("nvidia-smi", envNvidiaSMI, "Vendor CLI for the nvlink source (defaults to nvidia-smi)")
	logLevelFlag := fs.String("log-level", envLogLevel, "Log level: debug, info, warn, error")
	logFormatFlag := fs.String("log-format", envLogFormat, "Log format: auto, console, json")
	showVersion := fs.Bool("version", false, "Print the monitor version and exit")

	var sourceFlags multiValue
	fs.Var(&sourceFlags, "source", "Counter source: nvlink, rdma, or netdev (repeatable)")

	var deviceFlags multiValue
	fs.Var(&deviceFlags, "device", "Device ID/label pattern to monitor, supports wildcards (repeatable)")

	if err := fs.Parse(args); err != nil {
		return Config{}, false, err
	}

	if *showVersion {
		return Config{}, true, nil
	}

	sources := gatherValues(envSources, sourceFlags)
	if len(sources) == 0 {
		sources = []string{"nvlink"}
	}

	interval := *intervalFlag
	if interval <= 0 {
		interval = time.Second
	}

	return Config{
		Sources:   sources,
		Interval:  interval,
		Patterns:  gatherValues(envDevices, deviceFlags),
		Once:      *onceFlag,
		SysfsRoot: strings.TrimSpace(*sysfsFlag),
		NvidiaSMI: strings.TrimSpace(*nvidiaSMIFlag),
		LogLevel:  strings.TrimSpace(*logLevelFlag),
		LogFormat: strings.TrimSpace(*logFormatFlag),
	}, false, nil
}

// gatherValues merges a comma-separated env value with repeated flag values,
// env first, trimming and dropping empty entries.
func gatherValues(env string, flags []string) []string {
	values := make([]string, 0)
	if env != "" {
		for _, v := range strings.Split(env, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				values = append(values, v)
			}
		}
	}
	for _, v := range flags {
		v = strings.TrimSpace(v)
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}
