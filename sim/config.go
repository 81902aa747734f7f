package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/lamesim/lame/sim/trace"
)

// Config groups the construction parameters of a World.
// Zero values are not defaults; start from DefaultConfig.
type Config struct {
	Shards           int    `yaml:"shards" env:"LAME_SHARDS"`                       // worker shards (>= 1)
	OutboundCapacity int    `yaml:"outbound_capacity" env:"LAME_OUTBOUND_CAPACITY"` // sealed frames buffered before shards block
	TraceLevel       string `yaml:"trace_level" env:"LAME_TRACE_LEVEL"`             // "none", "decisions" or "frames"
}

// DefaultConfig returns one shard per available CPU, a two-frame outbound
// buffer and tracing off.
func DefaultConfig() Config {
	return Config{
		Shards:           runtime.NumCPU(),
		OutboundCapacity: 2,
		TraceLevel:       string(trace.TraceLevelNone),
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// Unknown keys are rejected so typos surface as errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any LAME_* environment variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks parameter ranges and the trace level name.
func (c Config) Validate() error {
	if c.Shards < 1 {
		return fmt.Errorf("%w: shards must be >= 1, got %d", ErrInvalidConfig, c.Shards)
	}
	if c.OutboundCapacity < 0 {
		return fmt.Errorf("%w: outbound_capacity must be non-negative, got %d", ErrInvalidConfig, c.OutboundCapacity)
	}
	if !trace.IsValidTraceLevel(c.TraceLevel) {
		return fmt.Errorf("%w: unknown trace level %q", ErrInvalidConfig, c.TraceLevel)
	}
	return nil
}
