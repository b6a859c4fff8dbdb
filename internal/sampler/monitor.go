package sampler

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benchkit/benchkit/internal/counters"
	"github.com/rs/zerolog"
)

const defaultInterval = time.Second

// separator closes each tick's block of device lines.
var separator = strings.Repeat("-", 40)

// Config controls a Monitor.
type Config struct {
	Interval time.Duration // polling interval, defaults to 1s
	Once     bool          // report a single delta and exit
	Patterns []string      // device ID/label filters, empty means all devices
	Out      io.Writer     // rate lines go here, defaults to os.Stdout
	Logger   zerolog.Logger
	Clock    clock.Clock // defaults to the wall clock
}

// target pairs a device with the source that reads it.
type target struct {
	source counters.Source
	device counters.Device
}

// key namespaces the device ID by source so two sources with colliding IDs
// do not share tracker state.
func (t target) key() string {
	return t.source.Name() + "/" + t.device.ID
}

// Monitor polls counter sources at a fixed interval and prints per-device
// throughput. The device set is resolved once at startup and never changes
// during a run.
type Monitor struct {
	sources  []counters.Source
	interval time.Duration
	once     bool
	patterns []string
	out      io.Writer
	logger   zerolog.Logger
	clock    clock.Clock
}

// New builds a Monitor over the given sources.
func New(cfg Config, sources ...counters.Source) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		sources:  sources,
		interval: interval,
		once:     cfg.Once,
		patterns: cfg.Patterns,
		out:      out,
		logger:   cfg.Logger,
		clock:    clk,
	}
}

// Run resolves the device set, takes a priming sample, then reports rates
// on every tick until ctx is cancelled. With Once set it reports a single
// delta and returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	targets, err := m.resolveTargets(ctx)
	if err != nil {
		return err
	}

	var tracker Tracker
	tracker.Advance(m.capture(ctx, targets))

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick := m.capture(ctx, targets)
			m.report(targets, &tracker, tick)
			tracker.Advance(tick)
			if m.once {
				return nil
			}
		}
	}
}

// resolveTargets lists and filters each source's devices.
func (m *Monitor) resolveTargets(ctx context.Context) ([]target, error) {
	var targets []target
	for _, source := range m.sources {
		devices, err := source.Devices(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover %s devices: %w", source.Name(), err)
		}
		devices = counters.Filter(devices, m.patterns)
		m.logger.Info().
			Str("source", source.Name()).
			Int("devices", len(devices)).
			Msg("Resolved devices")
		for _, dev := range devices {
			targets = append(targets, target{source: source, device: dev})
		}
	}
	if len(targets) == 0 {
		if len(m.patterns) > 0 {
			return nil, fmt.Errorf("no devices matched filters %v", m.patterns)
		}
		return nil, fmt.Errorf("no devices found")
	}
	return targets, nil
}

// capture reads every target's counters into one timestamped tick. All reads
// for the tick share a timeout of one interval so a hung source cannot stall
// the loop indefinitely. A device that fails to read is logged and left out
// of the tick; report prints n/a for it.
func (m *Monitor) capture(ctx context.Context, targets []target) Tick {
	tick := NewTick(m.clock.Now())
	readCtx, cancel := m.clock.WithTimeout(ctx, m.interval)
	defer cancel()
	for _, tgt := range targets {
		c, err := tgt.source.Read(readCtx, tgt.device)
		if err != nil {
			m.logger.Warn().Err(err).
				Str("source", tgt.source.Name()).
				Str("device", tgt.device.Label).
				Msg("Counter read failed")
			continue
		}
		tick.Counters[tgt.key()] = c
	}
	return tick
}

// report prints one line per device followed by the tick separator. Devices
// without a computable rate this tick print n/a in both directions.
func (m *Monitor) report(targets []target, tracker *Tracker, tick Tick) {
	for _, tgt := range targets {
		rates, ok := tracker.Rate(tgt.key(), tick)
		if !ok {
			fmt.Fprintf(m.out, "%s -> Rx: n/a | Tx: n/a\n", tgt.device.Label)
			continue
		}
		fmt.Fprintf(m.out, "%s -> Rx: %.2f MB/s | Tx: %.2f MB/s\n",
			tgt.device.Label, rates.RxMBps, rates.TxMBps)
	}
	fmt.Fprintln(m.out, separator)
}
