package sampler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benchkit/benchkit/internal/counters"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name       string
	devices    []counters.Device
	devicesErr error
	read       func(dev counters.Device) (counters.Counters, error)
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Devices(ctx context.Context) ([]counters.Device, error) {
	return f.devices, f.devicesErr
}

func (f *fakeSource) Read(ctx context.Context, dev counters.Device) (counters.Counters, error) {
	return f.read(dev)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// sequenceSource replays canned counters, one per read, per device.
func sequenceSource(name string, seq map[string][]counters.Counters, devices ...counters.Device) *fakeSource {
	calls := make(map[string]int)
	var mu sync.Mutex
	return &fakeSource{
		name:    name,
		devices: devices,
		read: func(dev counters.Device) (counters.Counters, error) {
			mu.Lock()
			defer mu.Unlock()
			values := seq[dev.ID]
			i := calls[dev.ID]
			if i >= len(values) {
				i = len(values) - 1
			}
			calls[dev.ID]++
			return values[i], nil
		},
	}
}

// TestMonitorReport_ExactRates drives capture and report by hand so the
// mock clock advances strictly between captures and the printed numbers
// are exact.
func TestMonitorReport_ExactRates(t *testing.T) {
	mock := clock.NewMock()
	out := &syncBuffer{}
	src := sequenceSource("fake", map[string][]counters.Counters{
		"0": {
			{Rx: 1024 * 1024, Tx: 2048 * 1024},
			{Rx: 3072 * 1024, Tx: 6144 * 1024},
		},
	}, counters.Device{ID: "0", Label: "GPU 0"})

	m := New(Config{
		Interval: 2 * time.Second,
		Out:      out,
		Logger:   zerolog.Nop(),
		Clock:    mock,
	}, src)

	targets, err := m.resolveTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)

	var tracker Tracker
	tracker.Advance(m.capture(context.Background(), targets))

	mock.Add(2 * time.Second)
	tick := m.capture(context.Background(), targets)
	m.report(targets, &tracker, tick)

	want := "GPU 0 -> Rx: 1.00 MB/s | Tx: 2.00 MB/s\n" + separator + "\n"
	require.Equal(t, want, out.String())
}

func TestMonitorReport_FailingDeviceGetsNALine(t *testing.T) {
	mock := clock.NewMock()
	out := &syncBuffer{}
	src := &fakeSource{
		name: "fake",
		devices: []counters.Device{
			{ID: "0", Label: "GPU 0"},
			{ID: "1", Label: "GPU 1"},
		},
		read: func(dev counters.Device) (counters.Counters, error) {
			if dev.ID == "1" {
				return counters.Counters{}, &counters.ReadError{Source: "fake", Device: dev.Label, Err: errors.New("unreadable")}
			}
			elapsed := uint64(mock.Now().Unix())
			return counters.Counters{Rx: elapsed * bytesPerMB, Tx: elapsed * bytesPerMB}, nil
		},
	}

	m := New(Config{
		Interval: time.Second,
		Out:      out,
		Logger:   zerolog.Nop(),
		Clock:    mock,
	}, src)

	targets, err := m.resolveTargets(context.Background())
	require.NoError(t, err)

	var tracker Tracker
	tracker.Advance(m.capture(context.Background(), targets))

	mock.Add(time.Second)
	tick := m.capture(context.Background(), targets)
	m.report(targets, &tracker, tick)

	got := out.String()
	require.Contains(t, got, "GPU 0 -> Rx: 1.00 MB/s | Tx: 1.00 MB/s")
	require.Contains(t, got, "GPU 1 -> Rx: n/a | Tx: n/a")
}

func TestMonitorReport_FirstTickAfterRecoveryHasNoRate(t *testing.T) {
	mock := clock.NewMock()
	out := &syncBuffer{}
	healthy := true
	src := &fakeSource{
		name:    "fake",
		devices: []counters.Device{{ID: "0", Label: "GPU 0"}},
		read: func(dev counters.Device) (counters.Counters, error) {
			if !healthy {
				return counters.Counters{}, errors.New("flap")
			}
			return counters.Counters{Rx: 1024, Tx: 1024}, nil
		},
	}

	m := New(Config{Interval: time.Second, Out: out, Logger: zerolog.Nop(), Clock: mock}, src)

	targets, err := m.resolveTargets(context.Background())
	require.NoError(t, err)

	var tracker Tracker
	healthy = false
	tracker.Advance(m.capture(context.Background(), targets))

	// Device comes back: present in the current tick but absent from the
	// baseline, so this tick still reports n/a.
	healthy = true
	mock.Add(time.Second)
	tick := m.capture(context.Background(), targets)
	m.report(targets, &tracker, tick)

	require.Contains(t, out.String(), "GPU 0 -> Rx: n/a | Tx: n/a")
}

func TestMonitorRun_OnceReportsAndReturns(t *testing.T) {
	mock := clock.NewMock()
	out := &syncBuffer{}
	src := sequenceSource("fake", map[string][]counters.Counters{
		"0": {{Rx: 0, Tx: 0}, {Rx: 4096, Tx: 4096}},
	}, counters.Device{ID: "0", Label: "GPU 0"})

	m := New(Config{
		Interval: time.Second,
		Once:     true,
		Out:      out,
		Logger:   zerolog.Nop(),
		Clock:    mock,
	}, src)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	var runErr error
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case runErr = <-errCh:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, runErr)

	got := out.String()
	require.Contains(t, got, "GPU 0 -> Rx: ")
	require.Equal(t, 1, strings.Count(got, separator))
}

func TestMonitorRun_FilterSelectsDevices(t *testing.T) {
	mock := clock.NewMock()
	out := &syncBuffer{}
	src := sequenceSource("fake", map[string][]counters.Counters{
		"mlx5_0:1": {{Rx: 0, Tx: 0}},
		"mlx5_1:1": {{Rx: 0, Tx: 0}},
	},
		counters.Device{ID: "mlx5_0:1", Label: "mlx5_0:1"},
		counters.Device{ID: "mlx5_1:1", Label: "mlx5_1:1"},
	)

	m := New(Config{
		Interval: time.Second,
		Once:     true,
		Patterns: []string{"mlx5_0*"},
		Out:      out,
		Logger:   zerolog.Nop(),
		Clock:    mock,
	}, src)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case <-errCh:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	got := out.String()
	require.Contains(t, got, "mlx5_0:1 ->")
	require.NotContains(t, got, "mlx5_1:1 ->")
}

func TestMonitorRun_NoMatchingDevicesFails(t *testing.T) {
	src := &fakeSource{
		name:    "fake",
		devices: []counters.Device{{ID: "eth0", Label: "eth0"}},
		read: func(dev counters.Device) (counters.Counters, error) {
			return counters.Counters{}, nil
		},
	}

	m := New(Config{
		Patterns: []string{"ib*"},
		Out:      &syncBuffer{},
		Logger:   zerolog.Nop(),
	}, src)

	err := m.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no devices matched")
}

func TestMonitorRun_DiscoveryErrorFails(t *testing.T) {
	src := &fakeSource{
		name:       "fake",
		devicesErr: errors.New("nvidia-smi exploded"),
	}

	m := New(Config{
		Out:    &syncBuffer{},
		Logger: zerolog.Nop(),
	}, src)

	err := m.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "discover fake devices")
}

func TestMonitorRun_CancelStopsLoop(t *testing.T) {
	mock := clock.NewMock()
	src := sequenceSource("fake", map[string][]counters.Counters{
		"eth0": {{Rx: 0, Tx: 0}},
	}, counters.Device{ID: "eth0", Label: "eth0"})

	m := New(Config{
		Interval: time.Second,
		Out:      &syncBuffer{},
		Logger:   zerolog.Nop(),
		Clock:    mock,
	}, src)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}
