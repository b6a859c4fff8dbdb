package counters

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultNvidiaSMICommand = "nvidia-smi"
	defaultCommandTimeout   = 10 * time.Second

	kibibyte = 1024
)

// Command wrappers for testing.
var (
	execLookPath     = exec.LookPath
	runCommandOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).Output()
	}
)

// NVLinkOptions configures the NVLink counter source.
type NVLinkOptions struct {
	Command string        // vendor CLI to invoke, defaults to "nvidia-smi"
	Timeout time.Duration // per-invocation budget, defaults to 10s
}

// NVLink reads per-GPU interconnect traffic counters by invoking the
// vendor CLI. Counter values are reported by the tool in KiB and converted
// to bytes here.
type NVLink struct {
	command string
	timeout time.Duration
}

// NewNVLink constructs the source and verifies the vendor CLI is present.
func NewNVLink(opts NVLinkOptions) (*NVLink, error) {
	command := strings.TrimSpace(opts.Command)
	if command == "" {
		command = defaultNvidiaSMICommand
	}
	if _, err := execLookPath(command); err != nil {
		return nil, fmt.Errorf("look up %s binary: %w", command, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	return &NVLink{command: command, timeout: timeout}, nil
}

func (s *NVLink) Name() string { return "nvlink" }

// Devices lists GPUs by parsing the CLI's --list-gpus output, one line per
// GPU of the form "GPU 0: NVIDIA H100 80GB HBM3 (UUID: GPU-...)".
func (s *NVLink) Devices(ctx context.Context) ([]Device, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	output, err := runCommandOutput(cmdCtx, s.command, "--list-gpus")
	if err != nil {
		return nil, fmt.Errorf("list GPUs via %s: %w", s.command, err)
	}

	var devices []Device
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "GPU ") {
			continue
		}
		rest := strings.TrimPrefix(line, "GPU ")
		index, name, found := strings.Cut(rest, ":")
		if !found {
			continue
		}
		index = strings.TrimSpace(index)
		if _, err := strconv.Atoi(index); err != nil {
			continue
		}
		name = strings.TrimSpace(name)
		if cut := strings.Index(name, "(UUID"); cut > 0 {
			name = strings.TrimSpace(name[:cut])
		}
		devices = append(devices, Device{
			ID:     index,
			Label:  "GPU " + index,
			Detail: name,
		})
	}

	return devices, nil
}

// Read invokes `<command> nvlink -gt d -i <index>` and sums the per-link
// data counters. Lines look like "Link 0: Data Tx: 123456 KiB"; inactive
// links print no counter line and contribute nothing.
func (s *NVLink) Read(ctx context.Context, dev Device) (Counters, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	output, err := runCommandOutput(cmdCtx, s.command, "nvlink", "-gt", "d", "-i", dev.ID)
	if err != nil {
		return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: err}
	}

	counters, err := parseNVLinkThroughput(string(output))
	if err != nil {
		return Counters{}, &ReadError{Source: s.Name(), Device: dev.Label, Err: err}
	}
	return counters, nil
}

func parseNVLinkThroughput(output string) (Counters, error) {
	var counters Counters
	for _, line := range strings.Split(output, "\n") {
		if _, rest, found := strings.Cut(line, "Data Rx:"); found {
			value, err := parseKiB(rest)
			if err != nil {
				return Counters{}, err
			}
			counters.Rx += value * kibibyte
			continue
		}
		if _, rest, found := strings.Cut(line, "Data Tx:"); found {
			value, err := parseKiB(rest)
			if err != nil {
				return Counters{}, err
			}
			counters.Tx += value * kibibyte
		}
	}
	return counters, nil
}

func parseKiB(text string) (uint64, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, fmt.Errorf("missing counter value")
	}
	value, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter value %q: %w", fields[0], err)
	}
	return value, nil
}
