package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/benchkit/benchkit/internal/counters"
	"github.com/benchkit/benchkit/internal/logging"
	"github.com/spf13/cobra"
)

var devicesFlags struct {
	sysfs     string
	logLevel  string
	logFormat string
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List monitorable interconnect devices",
	Long: `Lists the devices each counter source can monitor: GPUs via the
vendor CLI, RDMA ports via sysfs and plain network interfaces. Sources
whose backing tooling is unavailable on this host are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Init(logging.Config{
			Format:    devicesFlags.logFormat,
			Level:     devicesFlags.logLevel,
			Component: "devices",
		})

		ctx := cmd.Context()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		if source, err := counters.NewNVLink(counters.NVLinkOptions{}); err != nil {
			logger.Debug().Err(err).Msg("nvlink source unavailable")
		} else {
			listDevices(ctx, w, source, func(counters.Device) string { return "" })
		}

		sysfs := devicesFlags.sysfs
		if sysfs == "" {
			sysfs = "/sys"
		}
		if source, err := counters.NewRDMA(sysfs); err != nil {
			logger.Debug().Err(err).Msg("rdma source unavailable")
		} else {
			listDevices(ctx, w, source, func(dev counters.Device) string {
				name, _, _ := strings.Cut(dev.ID, ":")
				return counters.PCIProductName(filepath.Join(sysfs, "class", "infiniband", name, "device"))
			})
		}

		listDevices(ctx, w, counters.NewNetdev(), func(dev counters.Device) string {
			return counters.PCIProductName(filepath.Join(sysfs, "class", "net", dev.ID, "device"))
		})

		return nil
	},
}

// listDevices prints one row per device: source, label, detail and the PCI
// product name when pciName can resolve one. Discovery failures are reported
// as a row so one broken source does not hide the others.
func listDevices(ctx context.Context, w *tabwriter.Writer, source counters.Source, pciName func(counters.Device) string) {
	devices, err := source.Devices(ctx)
	if err != nil {
		fmt.Fprintf(w, "%s\t(discovery failed: %v)\n", source.Name(), err)
		return
	}
	for _, dev := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", source.Name(), dev.Label, dev.Detail, pciName(dev))
	}
}

func init() {
	devicesCmd.Flags().StringVar(&devicesFlags.sysfs, "sysfs", "/sys", "Sysfs root for RDMA and NIC lookups")
	devicesCmd.Flags().StringVar(&devicesFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	devicesCmd.Flags().StringVar(&devicesFlags.logFormat, "log-format", "auto", "Log format: auto, console, json")
}
