package counters

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gonet "github.com/shirou/gopsutil/v4/net"
)

// System call wrappers for testing.
var (
	netInterfaces = gonet.InterfacesWithContext
	netIOCounters = gonet.IOCountersWithContext
)

// Netdev reads plain NIC byte counters through gopsutil. Loopback
// interfaces are excluded from discovery.
type Netdev struct{}

// NewNetdev constructs the source.
func NewNetdev() *Netdev { return &Netdev{} }

func (s *Netdev) Name() string { return "netdev" }

func (s *Netdev) Devices(ctx context.Context) ([]Device, error) {
	ifaces, err := netInterfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	devices := make([]Device, 0, len(ifaces))
	for _, iface := range ifaces {
		if isLoopback(iface.Flags) {
			continue
		}
		devices = append(devices, Device{
			ID:     iface.Name,
			Label:  iface.Name,
			Detail: iface.HardwareAddr,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (s *Netdev) Read(ctx context.Context, dev Device) (Counters, error) {
	stats, err := netIOCounters(ctx, true)
	if err != nil {
		return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: err}
	}
	for _, stat := range stats {
		if stat.Name == dev.ID {
			return Counters{Rx: stat.BytesRecv, Tx: stat.BytesSent}, nil
		}
	}
	return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: fmt.Errorf("interface not found")}
}

func isLoopback(flags []string) bool {
	for _, flag := range flags {
		if strings.EqualFold(flag, "loopback") {
			return true
		}
	}
	return false
}
