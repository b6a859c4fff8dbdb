// Package counters reads cumulative receive/transmit byte counters from
// interconnect hardware. Each source enumerates its devices and reads one
// counter pair per device; values are monotonically non-decreasing unless
// the underlying hardware resets.
package counters

import (
	"context"
	"fmt"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// Device identifies one monitored interconnect endpoint.
type Device struct {
	ID     string // stable identifier used for tracking ("0", "mlx5_0:1", "eth0")
	Label  string // what report lines show ("GPU 0", "mlx5_0:1", "eth0")
	Detail string // free-form description (GPU model, port state, PCI name)
}

// Counters holds cumulative bytes received and transmitted by one device.
type Counters struct {
	Rx uint64
	Tx uint64
}

// Source enumerates devices and reads their counters.
type Source interface {
	// Name identifies the source in logs and listings ("nvlink", "rdma", "netdev").
	Name() string
	// Devices returns the monitorable endpoints this source can read.
	Devices(ctx context.Context) ([]Device, error)
	// Read returns the current cumulative counters for a device. Failures
	// are reported as *ReadError so callers can keep polling other devices.
	Read(ctx context.Context, dev Device) (Counters, error)
}

// ReadError reports a failed counter read for a single device.
type ReadError struct {
	Source string
	Device string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s counters for %s: %v", e.Source, e.Device, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Filter returns the devices whose ID or Label matches at least one of the
// patterns. Patterns support '*' and '?' wildcards. An empty pattern list
// selects everything.
func Filter(devices []Device, patterns []string) []Device {
	if len(patterns) == 0 {
		return devices
	}
	matched := make([]Device, 0, len(devices))
	for _, dev := range devices {
		for _, pattern := range patterns {
			if wildcard.Match(pattern, dev.ID) || wildcard.Match(pattern, dev.Label) {
				matched = append(matched, dev)
				break
			}
		}
	}
	return matched
}
