package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// baseColumnOrder fixes the leading CSV columns so sheets from different
// experiments line up.
var baseColumnOrder = []string{
	"model", "tokenizer", "hardware", "notes", "pd_enabled",
	"prefill_node", "prefill_dp", "prefill_tp",
	"decode_node", "decode_dp", "decode_tp",
}

// resultsWriter appends one CSV row per successful run. The header is only
// written when the file is new or empty, so an interrupted experiment can
// resume into the same sheet. Columns are fixed by the first appended row:
// the base columns, then remaining config keys, result keys, run_id and
// timestamp.
type resultsWriter struct {
	file       *os.File
	w          *csv.Writer
	fieldnames []string
	needHeader bool
}

func newResultsWriter(path string) (*resultsWriter, error) {
	needHeader := true
	if stat, err := os.Stat(path); err == nil && stat.Size() > 0 {
		needHeader = false
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results csv: %w", err)
	}
	return &resultsWriter{file: file, w: csv.NewWriter(file), needHeader: needHeader}, nil
}

func (rw *resultsWriter) Close() error {
	rw.w.Flush()
	return rw.file.Close()
}

// Append writes one run's row and flushes immediately so progress survives
// an interrupted sweep.
func (rw *resultsWriter) Append(run Run, result *Result, timestamp time.Time) error {
	if rw.fieldnames == nil {
		rw.fieldnames = fieldnames(run.Config, result)
		if rw.needHeader {
			if err := rw.w.Write(rw.fieldnames); err != nil {
				return fmt.Errorf("write csv header: %w", err)
			}
			rw.needHeader = false
		}
	}

	row := make([]string, len(rw.fieldnames))
	for i, field := range rw.fieldnames {
		row[i] = cell(field, run, result, timestamp)
	}
	if err := rw.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	rw.w.Flush()
	return rw.w.Error()
}

// cell resolves one field. Result fields shadow config fields of the same
// name; a field absent everywhere leaves an empty cell.
func cell(field string, run Run, result *Result, timestamp time.Time) string {
	switch field {
	case "run_id":
		return run.ID
	case "timestamp":
		return timestamp.Format("2006-01-02T15:04:05.000000")
	}
	if v, ok := result.Get(field); ok {
		return formatValue(v)
	}
	if v, ok := run.Config.Get(field); ok {
		return formatValue(v)
	}
	return ""
}

func fieldnames(config *RunConfig, result *Result) []string {
	names := make([]string, 0, len(baseColumnOrder)+len(config.Keys())+len(result.Keys())+2)
	seen := make(map[string]bool)
	add := func(keys ...string) {
		for _, k := range keys {
			if !seen[k] {
				names = append(names, k)
				seen[k] = true
			}
		}
	}
	add(baseColumnOrder...)
	add(config.Keys()...)
	add(result.Keys()...)
	add("run_id", "timestamp")
	return names
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
