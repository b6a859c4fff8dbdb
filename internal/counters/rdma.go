package counters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	infinibandClassPath = "class/infiniband"
	rcvDataCounterFile  = "port_rcv_data"
	xmitDataCounterFile = "port_xmit_data"

	// port_rcv_data/port_xmit_data count 4-byte lane words per the kernel
	// ABI (Documentation/ABI/stable/sysfs-class-infiniband).
	rdmaLaneWidth = 4
)

// RDMA reads InfiniBand/RoCE port traffic counters from sysfs files.
type RDMA struct {
	sysfsRoot string
}

// NewRDMA constructs the source rooted at sysfsRoot (normally "/sys") and
// verifies the infiniband class directory exists.
func NewRDMA(sysfsRoot string) (*RDMA, error) {
	if strings.TrimSpace(sysfsRoot) == "" {
		sysfsRoot = "/sys"
	}
	classDir := filepath.Join(sysfsRoot, infinibandClassPath)
	if _, err := os.Stat(classDir); err != nil {
		return nil, fmt.Errorf("stat %s: %w", classDir, err)
	}
	return &RDMA{sysfsRoot: sysfsRoot}, nil
}

func (s *RDMA) Name() string { return "rdma" }

// Devices walks <sysfs>/class/infiniband/<dev>/ports/<port> and returns one
// device per port, labelled "<dev>:<port>". The port state file supplies the
// detail column when readable.
func (s *RDMA) Devices(ctx context.Context) ([]Device, error) {
	classDir := filepath.Join(s.sysfsRoot, infinibandClassPath)
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", classDir, err)
	}

	var devices []Device
	for _, entry := range entries {
		name := entry.Name()
		portsDir := filepath.Join(classDir, name, "ports")
		ports, err := os.ReadDir(portsDir)
		if err != nil {
			continue
		}
		for _, port := range ports {
			portName := port.Name()
			if _, err := strconv.Atoi(portName); err != nil {
				continue
			}
			id := name + ":" + portName
			devices = append(devices, Device{
				ID:     id,
				Label:  id,
				Detail: readPortState(filepath.Join(portsDir, portName, "state")),
			})
		}
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// Read parses the receive/transmit data counter files for one port. Values
// count 4-byte lane words and are converted to bytes.
func (s *RDMA) Read(ctx context.Context, dev Device) (Counters, error) {
	name, port, found := strings.Cut(dev.ID, ":")
	if !found {
		return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: fmt.Errorf("malformed device id %q", dev.ID)}
	}

	countersDir := filepath.Join(s.sysfsRoot, infinibandClassPath, name, "ports", port, "counters")

	rx, err := readCounterFile(filepath.Join(countersDir, rcvDataCounterFile))
	if err != nil {
		return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: err}
	}
	tx, err := readCounterFile(filepath.Join(countersDir, xmitDataCounterFile))
	if err != nil {
		return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: err}
	}

	return Counters{Rx: rx * rdmaLaneWidth, Tx: tx * rdmaLaneWidth}, nil
}

func readCounterFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, fmt.Errorf("empty counter file %s", path)
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter file %s: %w", path, err)
	}
	return value, nil
}

func readPortState(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	state := strings.TrimSpace(string(data))
	// The state file reads "4: ACTIVE"; keep the symbolic part.
	if _, name, found := strings.Cut(state, ":"); found {
		return strings.TrimSpace(name)
	}
	return state
}
