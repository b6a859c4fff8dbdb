package latency

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

const sampleLog = `2025-06-01T12:00:00Z request id=1 latency: 10.5 ms
2025-06-01T12:00:01Z request id=2 latency: 20.0 ms
noise line without a sample
2025-06-01T12:00:02Z request id=3 latency=5
2025-06-01T12:00:03Z request id=4 latency: 40.25 ms
`

func TestExtract_DefaultPattern(t *testing.T) {
	samples, malformed, err := Extract(strings.NewReader(sampleLog), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if malformed != 0 {
		t.Errorf("malformed = %d, want 0", malformed)
	}
	want := []float64{10.5, 20.0, 5, 40.25}
	if len(samples) != len(want) {
		t.Fatalf("samples = %v, want %v", samples, want)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestExtract_CustomPatternCountsMalformed(t *testing.T) {
	log := "took 12.5 units\ntook n/a units\ntook 7.5 units\n"
	re := regexp.MustCompile(`took (\S+) units`)

	samples, malformed, err := Extract(strings.NewReader(log), re)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
	if len(samples) != 2 || samples[0] != 12.5 || samples[1] != 7.5 {
		t.Errorf("samples = %v, want [12.5 7.5]", samples)
	}
}

func TestExtract_WholeMatchWithoutGroup(t *testing.T) {
	re := regexp.MustCompile(`[0-9]+\.[0-9]+`)
	samples, _, err := Extract(strings.NewReader("value 3.25 here\n"), re)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(samples) != 1 || samples[0] != 3.25 {
		t.Errorf("samples = %v, want [3.25]", samples)
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	samples, malformed, err := Extract(strings.NewReader(""), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(samples) != 0 || malformed != 0 {
		t.Errorf("got %v samples, %d malformed, want none", samples, malformed)
	}
}

func TestSummarize_Empty(t *testing.T) {
	stats := Summarize(nil)
	if stats.Count != 0 {
		t.Errorf("Count = %d, want 0", stats.Count)
	}
}

func TestSummarize_SingleSample(t *testing.T) {
	stats := Summarize([]float64{42})
	if stats.Count != 1 {
		t.Errorf("Count = %d, want 1", stats.Count)
	}
	for name, got := range map[string]float64{
		"Mean": stats.Mean, "Min": stats.Min, "Max": stats.Max,
		"P50": stats.P50, "P90": stats.P90, "P95": stats.P95, "P99": stats.P99,
	} {
		if got != 42 {
			t.Errorf("%s = %v, want 42", name, got)
		}
	}
}

func TestSummarize_NearestRankPercentiles(t *testing.T) {
	// 100 ascending samples make the nearest-rank percentiles exact.
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i + 1)
	}

	stats := Summarize(samples)
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Mean != 50.5 {
		t.Errorf("Mean = %v, want 50.5", stats.Mean)
	}
	if stats.Min != 1 || stats.Max != 100 {
		t.Errorf("Min/Max = %v/%v, want 1/100", stats.Min, stats.Max)
	}
	if stats.P50 != 50 || stats.P90 != 90 || stats.P95 != 95 || stats.P99 != 99 {
		t.Errorf("percentiles = %v/%v/%v/%v, want 50/90/95/99",
			stats.P50, stats.P90, stats.P95, stats.P99)
	}
}

func TestSummarize_SmallSet(t *testing.T) {
	stats := Summarize([]float64{40, 10, 30, 20})
	if stats.P50 != 20 {
		t.Errorf("P50 = %v, want 20", stats.P50)
	}
	if stats.P90 != 40 || stats.P99 != 40 {
		t.Errorf("P90/P99 = %v/%v, want 40/40", stats.P90, stats.P99)
	}
	if stats.Mean != 25 {
		t.Errorf("Mean = %v, want 25", stats.Mean)
	}
}

func TestSummarize_UnsortedInputLeftIntact(t *testing.T) {
	samples := []float64{30, 10, 20}
	Summarize(samples)
	if samples[0] != 30 || samples[1] != 10 || samples[2] != 20 {
		t.Errorf("input reordered: %v", samples)
	}
}

func TestAnalyze_WritesSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out strings.Builder
	if err := Analyze(path, nil, &out); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "samples: 4") {
		t.Errorf("output missing sample count: %q", got)
	}
	if !strings.Contains(got, "min: 5.00 ms") || !strings.Contains(got, "max: 40.25 ms") {
		t.Errorf("output missing min/max: %q", got)
	}
	if !strings.Contains(got, "p50:") || !strings.Contains(got, "p99:") {
		t.Errorf("output missing percentiles: %q", got)
	}
}

func TestAnalyze_NoSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, []byte("nothing to see\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var out strings.Builder
	if err := Analyze(path, nil, &out); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !strings.Contains(out.String(), "no samples") {
		t.Errorf("output = %q, want a no samples line", out.String())
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	var out strings.Builder
	if err := Analyze(filepath.Join(t.TempDir(), "absent.log"), nil, &out); err == nil {
		t.Fatal("expected error for a missing log file")
	}
}
