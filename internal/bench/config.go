// Package bench runs parameter-sweep benchmarks against a serving endpoint
// and collects their results.
package bench

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxRetries   = 3
	defaultCooldownSec  = 60
	defaultBenchCommand = "vllm bench serve"
)

// Experiment is a full sweep description loaded from YAML.
type Experiment struct {
	Setup Setup      `yaml:"experiment_setup"`
	Base  BaseConfig `yaml:"base_config"`
	Sweep Sweep      `yaml:"parameter_sweep"`
}

// Setup carries experiment-wide settings.
type Setup struct {
	ShortExperimentName string `yaml:"short_experiment_name"`
	BaseURL             string `yaml:"base_url"`
	IP                  string `yaml:"ip"`
	Port                int    `yaml:"port"`
	MaxRetries          *int   `yaml:"max_retries"`
	GPUCooldownSec      *int   `yaml:"gpu_cooldown_sec"`
	BenchCommand        string `yaml:"bench_command"`
}

// URL returns the endpoint base URL, assembled from ip and port when
// base_url is not set explicitly.
func (s *Setup) URL() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return fmt.Sprintf("http://%s:%d", s.IP, s.Port)
}

// Retries returns the per-run attempt budget.
func (s *Setup) Retries() int {
	if s.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *s.MaxRetries
}

// Cooldown returns how long the GPUs rest between runs and retries.
func (s *Setup) Cooldown() time.Duration {
	if s.GPUCooldownSec == nil {
		return defaultCooldownSec * time.Second
	}
	return time.Duration(*s.GPUCooldownSec) * time.Second
}

// CommandArgv returns the benchmark command split into argv form.
func (s *Setup) CommandArgv() []string {
	command := s.BenchCommand
	if command == "" {
		command = defaultBenchCommand
	}
	return strings.Fields(command)
}

// BaseConfig is the static description of the system under test. It is an
// open mapping: known keys feed the benchmark command, unknown keys ride
// along into the CSV. Document order is preserved so CSV columns match the
// experiment file.
type BaseConfig struct {
	keys   []string
	values map[string]any
}

// UnmarshalYAML decodes a mapping node keeping key order.
func (b *BaseConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("base_config must be a mapping")
	}
	b.values = make(map[string]any, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("decode base_config.%s: %w", key, err)
		}
		if _, seen := b.values[key]; !seen {
			b.keys = append(b.keys, key)
		}
		b.values[key] = value
	}
	return nil
}

// Keys returns the config keys in document order.
func (b *BaseConfig) Keys() []string { return b.keys }

// Get returns the raw value for key.
func (b *BaseConfig) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// String returns the value for key as a string, or "" when absent or not
// a string.
func (b *BaseConfig) String(key string) string {
	if v, ok := b.values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Int returns the value for key as an int. Floats truncate the way the
// sweep harness always has.
func (b *BaseConfig) Int(key string) (int, bool) {
	switch v := b.values[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// RequestRate is a request rate axis value: a finite requests-per-second
// number for latency runs, or infinite for throughput runs.
type RequestRate struct {
	Inf   bool
	Value float64
}

// UnmarshalYAML accepts numbers, "inf" and YAML's ".inf".
func (r *RequestRate) UnmarshalYAML(node *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(node.Value), "inf") {
		r.Inf = true
		return nil
	}
	if err := node.Decode(&r.Value); err != nil {
		return fmt.Errorf("request rate %q is neither a number nor inf", node.Value)
	}
	if math.IsInf(r.Value, 1) {
		r.Inf = true
		r.Value = 0
	}
	return nil
}

func (r RequestRate) String() string {
	if r.Inf {
		return "inf"
	}
	return strconv.FormatFloat(r.Value, 'g', -1, 64)
}

// Sweep lists the parameter axes expanded into individual runs.
type Sweep struct {
	ReqRates             []RequestRate `yaml:"req_rates"`
	InputLens            []int         `yaml:"input_lens"`
	Ratios               []float64     `yaml:"input_to_output_len_ratios"`
	MaxConcurrencyValues []*int        `yaml:"max_concurrency_values"`
}

// Load reads, validates and defaults an experiment file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment config: %w", err)
	}
	return Parse(data)
}

// Parse decodes experiment YAML.
func Parse(data []byte) (*Experiment, error) {
	var exp Experiment
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse experiment config: %w", err)
	}
	if err := exp.validate(); err != nil {
		return nil, err
	}
	exp.applyDefaults(time.Now())
	return &exp, nil
}

func (e *Experiment) validate() error {
	if len(e.Base.keys) == 0 {
		return fmt.Errorf("experiment config is missing base_config")
	}
	if len(e.Sweep.ReqRates) == 0 && len(e.Sweep.InputLens) == 0 && len(e.Sweep.Ratios) == 0 {
		return fmt.Errorf("experiment config is missing parameter_sweep")
	}
	if e.Setup.BaseURL == "" && (e.Setup.IP == "" || e.Setup.Port == 0) {
		return fmt.Errorf("experiment_setup needs base_url or ip and port")
	}
	if e.Base.String("model") == "" {
		return fmt.Errorf("base_config.model is required")
	}
	if e.Base.String("tokenizer") == "" {
		return fmt.Errorf("base_config.tokenizer is required")
	}
	for _, ratio := range e.Sweep.Ratios {
		if ratio <= 0 {
			return fmt.Errorf("input_to_output_len_ratios must be positive, got %v", ratio)
		}
	}
	if e.Setup.BenchCommand != "" && len(strings.Fields(e.Setup.BenchCommand)) == 0 {
		return fmt.Errorf("bench_command must contain a command")
	}
	return nil
}

func (e *Experiment) applyDefaults(now time.Time) {
	if e.Setup.ShortExperimentName == "" {
		e.Setup.ShortExperimentName = "exp_" + now.Format("20060102")
	}
}
