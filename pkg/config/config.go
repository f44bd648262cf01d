// Package config loads and validates cuki's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cuki/internal/ccf"
	"cuki/internal/estimator"
	"cuki/internal/logging"
	"cuki/internal/trace"
)

// TraceFormat selects the trace reader.
type TraceFormat string

const (
	TraceFormatCSV       TraceFormat = "csv"
	TraceFormatSynthetic TraceFormat = "synthetic"
)

// TraceConfig describes where accesses come from.
type TraceConfig struct {
	Format    TraceFormat           `yaml:"format"`
	Path      string                `yaml:"path"` // "-" reads stdin (csv only)
	Synthetic trace.SyntheticConfig `yaml:"synthetic"`
}

// OutputConfig describes where samples go.
type OutputConfig struct {
	Path string `yaml:"path"` // "-" writes stdout
}

// Config is the root configuration structure.
type Config struct {
	Filter    ccf.Config        `yaml:"filter"`
	Estimator estimator.Config  `yaml:"estimator"`
	Trace     TraceConfig       `yaml:"trace"`
	Output    OutputConfig      `yaml:"output"`
	Logging   logging.LogConfig `yaml:"logging"`
}

// Load reads and parses the configuration file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	config := &Config{
		Filter: *ccf.DefaultConfig(),
		Estimator: estimator.Config{
			ReportInterval: 1 << 20,
			TimeDivisor:    4,
			MaxIRRKeys:     0,
		},
		Trace: TraceConfig{
			Format: TraceFormatCSV,
			Path:   "-",
			Synthetic: trace.SyntheticConfig{
				Seed:    1,
				Records: 10_000_000,
				Keys:    1_000_000,
				ZipfS:   1.1,
				MinSize: 64,
				MaxSize: 64 << 10,
			},
		},
		Output: OutputConfig{
			Path: "-",
		},
		Logging: logging.LogConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			BufferSize:    1000,
			LogDir:        "logs",
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "configuration file %s not found, using defaults\n", path)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	if c.Estimator.ReportInterval == 0 {
		return fmt.Errorf("estimator.report_interval must be at least 1")
	}
	if c.Estimator.TimeDivisor == 0 {
		return fmt.Errorf("estimator.time_divisor must be at least 1")
	}
	switch c.Trace.Format {
	case TraceFormatCSV:
		if c.Trace.Path == "" {
			return fmt.Errorf("trace.path must be set for csv traces")
		}
	case TraceFormatSynthetic:
	default:
		return fmt.Errorf("trace.format must be %q or %q, got %q", TraceFormatCSV, TraceFormatSynthetic, c.Trace.Format)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path must be set")
	}
	return nil
}
