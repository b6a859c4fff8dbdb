// Command benchkit is the benchmarking toolkit: parameter-sweep runs,
// single-request probes, latency log analysis and device listing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "benchkit",
	Short:   "benchkit - LLM serving benchmark toolkit",
	Long:    `benchkit runs parameter-sweep benchmarks against a serving endpoint, probes it with single requests, extracts latency statistics from benchmark logs and lists monitorable interconnect devices.`,
	Version: Version,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(latencyCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("benchkit %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
