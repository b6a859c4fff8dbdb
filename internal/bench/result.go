package bench

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Result is a parsed benchmark result file. Top-level field order mirrors
// the file so downstream CSV columns stay stable across runs.
type Result struct {
	keys   []string
	values map[string]any
}

// parseResultFile reads a result JSON file keeping top-level field order.
func parseResultFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}
	result, err := parseResult(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return result, nil
}

func parseResult(data []byte) (*Result, error) {
	iter := jsoniter.ParseBytes(jsoniter.ConfigDefault, data)
	result := &Result{values: make(map[string]any)}
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		value := iter.Read()
		if iter.Error != nil {
			break
		}
		if _, seen := result.values[field]; !seen {
			result.keys = append(result.keys, field)
		}
		result.values[field] = value
	}
	if iter.Error != nil {
		return nil, iter.Error
	}
	if len(result.keys) == 0 {
		return nil, fmt.Errorf("no fields in result object")
	}
	return result, nil
}

// Keys returns the top-level field names in file order.
func (r *Result) Keys() []string { return r.keys }

// Get returns the raw value for key.
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Int returns the value for key as an int; JSON numbers arrive as float64.
func (r *Result) Int(key string) int {
	switch v := r.values[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
