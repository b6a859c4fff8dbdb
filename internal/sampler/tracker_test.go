package sampler

import (
	"fmt"
	"testing"
	"time"

	"github.com/benchkit/benchkit/internal/counters"
)

func tickWith(at time.Time, id string, rx, tx uint64) Tick {
	tick := NewTick(at)
	tick.Counters[id] = counters.Counters{Rx: rx, Tx: tx}
	return tick
}

func TestRate_FirstObservationHasNoRate(t *testing.T) {
	var tracker Tracker
	if _, ok := tracker.Rate("gpu0", tickWith(time.Unix(1000, 0), "gpu0", 1024, 2048)); ok {
		t.Error("expected no rate before a baseline tick exists")
	}
}

func TestRate_DeviceMissingFromBaseline(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 1024, 2048))

	if _, ok := tracker.Rate("gpu1", tickWith(base.Add(time.Second), "gpu1", 1024, 2048)); ok {
		t.Error("expected no rate for a device absent from the baseline tick")
	}
}

func TestRate_DeviceMissingFromCurrentTick(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 1024, 2048))

	if _, ok := tracker.Rate("gpu0", NewTick(base.Add(time.Second))); ok {
		t.Error("expected no rate for a device absent from the current tick")
	}
}

func TestRate_SteadyTransferScenario(t *testing.T) {
	// 1024 KiB -> 3072 KiB received and 2048 KiB -> 6144 KiB sent over two
	// seconds displays as 1.00 / 2.00 MB/s.
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 1024*1024, 2048*1024))

	rates, ok := tracker.Rate("gpu0", tickWith(base.Add(2*time.Second), "gpu0", 3072*1024, 6144*1024))
	if !ok {
		t.Fatal("expected a rate on the second tick")
	}
	if got := fmt.Sprintf("Rx: %.2f MB/s | Tx: %.2f MB/s", rates.RxMBps, rates.TxMBps); got != "Rx: 1.00 MB/s | Tx: 2.00 MB/s" {
		t.Errorf("formatted rates = %q, want %q", got, "Rx: 1.00 MB/s | Tx: 2.00 MB/s")
	}
}

func TestRate_ExactDelta(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "eth0", 0, 0))

	rates, ok := tracker.Rate("eth0", tickWith(base.Add(4*time.Second), "eth0", 6*bytesPerMB, 10*bytesPerMB))
	if !ok {
		t.Fatal("expected a rate")
	}
	if rates.RxMBps != 1.5 {
		t.Errorf("RxMBps = %v, want 1.5", rates.RxMBps)
	}
	if rates.TxMBps != 2.5 {
		t.Errorf("TxMBps = %v, want 2.5", rates.TxMBps)
	}
}

func TestRate_ZeroElapsedGuarded(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 1024, 2048))

	if _, ok := tracker.Rate("gpu0", tickWith(base, "gpu0", 4096, 8192)); ok {
		t.Error("expected no rate when elapsed time is zero")
	}
	if _, ok := tracker.Rate("gpu0", tickWith(base.Add(-time.Second), "gpu0", 4096, 8192)); ok {
		t.Error("expected no rate when elapsed time is negative")
	}
}

func TestRate_CounterWrapClampsToZero(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "mlx5_0:1", 5000*bytesPerMB, 1000))

	rates, ok := tracker.Rate("mlx5_0:1", tickWith(base.Add(time.Second), "mlx5_0:1", 100, 1000+2*bytesPerMB))
	if !ok {
		t.Fatal("expected a rate")
	}
	if rates.RxMBps != 0 {
		t.Errorf("RxMBps after wrap = %v, want 0", rates.RxMBps)
	}
	if rates.TxMBps != 2 {
		t.Errorf("TxMBps = %v, want 2", rates.TxMBps)
	}
}

func TestRate_ConstantIncrementGivesConstantRate(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 0, 0))

	for i := 1; i <= 5; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		tick := tickWith(at, "gpu0", uint64(i)*3*bytesPerMB, uint64(i)*7*bytesPerMB)
		rates, ok := tracker.Rate("gpu0", tick)
		if !ok {
			t.Fatalf("tick %d: expected a rate", i)
		}
		if rates.RxMBps != 3 || rates.TxMBps != 7 {
			t.Errorf("tick %d: rates = (%v, %v), want (3, 7)", i, rates.RxMBps, rates.TxMBps)
		}
		tracker.Advance(tick)
	}
}

func TestRate_IdleCountersGiveZeroRate(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 1024, 2048))

	rates, ok := tracker.Rate("gpu0", tickWith(base.Add(time.Second), "gpu0", 1024, 2048))
	if !ok {
		t.Fatal("expected a rate")
	}
	if rates.RxMBps != 0 || rates.TxMBps != 0 {
		t.Errorf("idle rates = (%v, %v), want (0, 0)", rates.RxMBps, rates.TxMBps)
	}
}

func TestRate_FractionalElapsed(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker
	tracker.Advance(tickWith(base, "gpu0", 0, 0))

	rates, ok := tracker.Rate("gpu0", tickWith(base.Add(500*time.Millisecond), "gpu0", bytesPerMB, 2*bytesPerMB))
	if !ok {
		t.Fatal("expected a rate")
	}
	// 1 MB over half a second.
	if rates.RxMBps != 2 {
		t.Errorf("RxMBps = %v, want 2", rates.RxMBps)
	}
	if rates.TxMBps != 4 {
		t.Errorf("TxMBps = %v, want 4", rates.TxMBps)
	}
}

func TestRate_DevicesTrackedIndependently(t *testing.T) {
	base := time.Unix(1000, 0)
	var tracker Tracker

	seed := NewTick(base)
	seed.Counters["gpu0"] = counters.Counters{Rx: 0, Tx: 0}
	seed.Counters["gpu1"] = counters.Counters{Rx: 100 * bytesPerMB, Tx: 0}
	tracker.Advance(seed)

	next := NewTick(base.Add(time.Second))
	next.Counters["gpu0"] = counters.Counters{Rx: 1 * bytesPerMB, Tx: 0}
	next.Counters["gpu1"] = counters.Counters{Rx: 105 * bytesPerMB, Tx: 0}

	rates0, ok := tracker.Rate("gpu0", next)
	if !ok || rates0.RxMBps != 1 {
		t.Errorf("gpu0 rate = (%v, %v), want 1 MB/s", rates0.RxMBps, ok)
	}
	rates1, ok := tracker.Rate("gpu1", next)
	if !ok || rates1.RxMBps != 5 {
		t.Errorf("gpu1 rate = (%v, %v), want 5 MB/s", rates1.RxMBps, ok)
	}
}
