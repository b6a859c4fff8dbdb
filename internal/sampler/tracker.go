// Package sampler drives the polling loop that turns cumulative link
// counters into throughput rates.
package sampler

import (
	"time"

	"github.com/benchkit/benchkit/internal/counters"
)

// bytesPerMB fixes the display unit: 1 MB/s is 1048576 bytes per second.
const bytesPerMB = 1 << 20

// Tick is one polling cycle's timestamped counter snapshot across devices.
// A device missing from Counters failed to read during that cycle.
type Tick struct {
	At       time.Time
	Counters map[string]counters.Counters
}

// NewTick returns an empty snapshot stamped at the given instant.
func NewTick(at time.Time) Tick {
	return Tick{At: at, Counters: make(map[string]counters.Counters)}
}

// Rates is the computed throughput for one device over one interval.
type Rates struct {
	RxMBps float64
	TxMBps float64
}

// Tracker computes per-device rates between consecutive ticks. It holds
// only the previous tick and is owned by the polling loop; it is not safe
// for concurrent use.
type Tracker struct {
	prev   Tick
	primed bool
}

// Rate returns the throughput of one device between the previous tick and
// tick. The second return is false when no rate can be computed: the device
// has no baseline yet, it is missing from either tick, or elapsed time is
// not positive.
func (t *Tracker) Rate(deviceID string, tick Tick) (Rates, bool) {
	if !t.primed {
		return Rates{}, false
	}
	prev, ok := t.prev.Counters[deviceID]
	if !ok {
		return Rates{}, false
	}
	cur, ok := tick.Counters[deviceID]
	if !ok {
		return Rates{}, false
	}
	elapsed := tick.At.Sub(t.prev.At).Seconds()
	if elapsed <= 0 {
		return Rates{}, false
	}
	return Rates{
		RxMBps: deltaMBps(prev.Rx, cur.Rx, elapsed),
		TxMBps: deltaMBps(prev.Tx, cur.Tx, elapsed),
	}, true
}

// Advance stores tick as the baseline for the next interval.
func (t *Tracker) Advance(tick Tick) {
	t.prev = tick
	t.primed = true
}

// deltaMBps converts a counter delta to MB/s. A counter that moved backwards
// (wrap or driver reset) clamps to zero rather than reporting negative.
func deltaMBps(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / seconds / bytesPerMB
}
