// Package latency extracts per-request latency samples from benchmark logs
// and summarizes their distribution.
package latency

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultPattern matches lines like "latency: 12.34 ms" or "latency=12.34".
// The first capture group is the sample value.
var DefaultPattern = regexp.MustCompile(`latency[:=]\s*([0-9]*\.?[0-9]+)\s*(?:ms)?`)

// maxLineSize bounds the scanner buffer; benchmark logs can carry very long
// request dump lines.
const maxLineSize = 1024 * 1024

// Extract scans r line by line and parses the first capture group of re
// (or the whole match when re has no groups) as a float64 sample. Lines
// that do not match are skipped. Matches whose value fails to parse are
// counted as malformed rather than aborting the scan. A nil re uses
// DefaultPattern.
func Extract(r io.Reader, re *regexp.Regexp) (samples []float64, malformed int, err error) {
	if re == nil {
		re = DefaultPattern
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		match := re.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		text := match[0]
		if len(match) > 1 {
			text = match[1]
		}
		value, perr := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if perr != nil {
			malformed++
			continue
		}
		samples = append(samples, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan log: %w", err)
	}
	return samples, malformed, nil
}

// Stats summarizes a latency distribution. Percentiles use the
// nearest-rank method on the sorted samples.
type Stats struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

// Summarize computes Stats over samples. Empty input yields a zero value
// with Count == 0.
func Summarize(samples []float64) Stats {
	if len(samples) == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Stats{
		Count: len(sorted),
		Mean:  sum / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 50),
		P90:   percentile(sorted, 90),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

// percentile returns the nearest-rank percentile of an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Analyze reads the log at path and writes a three-line summary to w. A log
// with no matching lines produces a "no samples" line and no error.
func Analyze(path string, re *regexp.Regexp, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	samples, malformed, err := Extract(f, re)
	if err != nil {
		return err
	}
	writeStats(w, Summarize(samples), malformed)
	return nil
}

func writeStats(w io.Writer, stats Stats, malformed int) {
	if stats.Count == 0 {
		if malformed > 0 {
			fmt.Fprintf(w, "no samples (%d malformed)\n", malformed)
			return
		}
		fmt.Fprintln(w, "no samples")
		return
	}

	if malformed > 0 {
		fmt.Fprintf(w, "samples: %d (%d malformed)\n", stats.Count, malformed)
	} else {
		fmt.Fprintf(w, "samples: %d\n", stats.Count)
	}
	fmt.Fprintf(w, "mean: %.2f ms | min: %.2f ms | max: %.2f ms\n", stats.Mean, stats.Min, stats.Max)
	fmt.Fprintf(w, "p50: %.2f ms | p90: %.2f ms | p95: %.2f ms | p99: %.2f ms\n",
		stats.P50, stats.P90, stats.P95, stats.P99)
}
