package bench

import (
	"bytes"
	"fmt"
	"math"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

const (
	// Runs whose computed output length exceeds this are dropped from the
	// grid; the serving configs under test cap generation at 1024 tokens.
	maxOutputLen = 1024

	// minNumPrompts floors the computed prompt count so short runs still
	// produce stable percentiles.
	minNumPrompts = 512
)

// Run is one cell of the sweep grid.
type Run struct {
	ID             string
	Model          string
	Tokenizer      string
	Goodput        string
	ReqRate        RequestRate
	InputLen       int
	OutputLen      int
	NumPrompts     int
	MaxConcurrency *int

	// Config carries every config field of the run, base and sweep alike,
	// in stable order for the CSV and the failed-run log.
	Config *RunConfig
}

// RunConfig is an insertion-ordered set of config fields.
type RunConfig struct {
	keys   []string
	values map[string]any
}

// NewRunConfig copies the base config fields in order.
func NewRunConfig(base *BaseConfig) *RunConfig {
	c := &RunConfig{values: make(map[string]any, len(base.keys)+5)}
	for _, key := range base.keys {
		c.keys = append(c.keys, key)
		c.values[key] = base.values[key]
	}
	return c
}

// Set updates key, appending it to the order when new.
func (c *RunConfig) Set(key string, value any) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value for key.
func (c *RunConfig) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (c *RunConfig) Keys() []string { return c.keys }

// MarshalJSON writes the fields as an object in insertion order.
func (c *RunConfig) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := jsoniter.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := jsoniter.Marshal(c.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal config field %s: %w", key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// BuildRuns expands the sweep axes into the run list. Pairing rule: an
// infinite request rate (throughput run) needs a concrete concurrency cap,
// a finite rate (latency run) runs uncapped; other combinations are
// skipped. Output length is input length over ratio, rounded half to even;
// combinations above maxOutputLen are dropped.
func BuildRuns(base *BaseConfig, sweep Sweep) []Run {
	var runs []Run
	for _, rate := range sweep.ReqRates {
		for _, inputLen := range sweep.InputLens {
			for _, ratio := range sweep.Ratios {
				outputLen := int(math.RoundToEven(float64(inputLen) / ratio))
				if outputLen > maxOutputLen {
					continue
				}
				for _, conc := range sweep.MaxConcurrencyValues {
					if rate.Inf && conc == nil {
						continue
					}
					if !rate.Inf && conc != nil {
						continue
					}
					runs = append(runs, newRun(base, rate, inputLen, outputLen, conc))
				}
			}
		}
	}
	return runs
}

func newRun(base *BaseConfig, rate RequestRate, inputLen, outputLen int, conc *int) Run {
	numPrompts := numPromptsFor(base, rate, conc)

	config := NewRunConfig(base)
	config.Set("req_rate", rate.String())
	config.Set("input_len", inputLen)
	config.Set("output_len", outputLen)
	config.Set("num_prompts", numPrompts)
	if conc != nil {
		config.Set("max_curr", *conc)
	} else {
		config.Set("max_curr", nil)
	}

	return Run{
		ID:             uuid.NewString(),
		Model:          base.String("model"),
		Tokenizer:      base.String("tokenizer"),
		Goodput:        base.String("goodput"),
		ReqRate:        rate,
		InputLen:       inputLen,
		OutputLen:      outputLen,
		NumPrompts:     numPrompts,
		MaxConcurrency: conc,
		Config:         config,
	}
}

// numPromptsFor sizes the run: an explicit base_config num_prompts wins;
// otherwise throughput runs issue ten prompts per concurrency slot and
// latency runs a minute's worth at the target rate, floored at
// minNumPrompts either way.
func numPromptsFor(base *BaseConfig, rate RequestRate, conc *int) int {
	if n, ok := base.Int("num_prompts"); ok {
		return n
	}
	calculated := 0
	if conc != nil {
		calculated = 10 * *conc
	} else if !rate.Inf {
		calculated = int(rate.Value * 60)
	}
	if calculated < minNumPrompts {
		return minNumPrompts
	}
	return calculated
}
