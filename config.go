package revwire

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sony/gobreaker/v2"
)

// Duration is a time.Duration that decodes from TOML strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a time.ParseDuration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// BreakerConfig configures the circuit breaker around socket writes.
type BreakerConfig struct {
	Enabled     bool     `toml:"enabled"`
	MaxRequests uint32   `toml:"max_requests"`
	Interval    Duration `toml:"interval"`
	Timeout     Duration `toml:"timeout"`
}

// Config is the node configuration.
type Config struct {
	BufferCapacity int      `toml:"buffer_capacity"`
	Pool           string   `toml:"pool"`      // "channel" or "puddle"
	PoolSize       int      `toml:"pool_size"` // idle buffers kept, or max buffers for puddle
	ReadTimeout    Duration `toml:"read_timeout"`
	Listen         string   `toml:"listen"`
	Metrics        string   `toml:"metrics"` // empty disables the metrics endpoint
	LogLevel       string   `toml:"log_level"`

	Breaker BreakerConfig `toml:"breaker"`
}

const (
	PoolChannel = "channel"
	PoolPuddle  = "puddle"
)

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 4096,
		Pool:           PoolChannel,
		PoolSize:       64,
		ReadTimeout:    Duration{30 * time.Second},
		Listen:         "127.0.0.1:2036",
		LogLevel:       "info",
		Breaker: BreakerConfig{
			MaxRequests: 1,
			Interval:    Duration{time.Minute},
			Timeout:     Duration{10 * time.Second},
		},
	}
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the capacities and limits of c.
func (c Config) Validate() error {
	if c.BufferCapacity <= 0 || c.BufferCapacity > MaxBufferCapacity {
		return fmt.Errorf("config: buffer_capacity %d out of range 1..%d", c.BufferCapacity, MaxBufferCapacity)
	}
	switch strings.ToLower(c.Pool) {
	case PoolChannel, PoolPuddle:
	default:
		return fmt.Errorf("config: unknown pool %q", c.Pool)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: pool_size must be positive")
	}
	if c.ReadTimeout.Duration < 0 {
		return fmt.Errorf("config: negative read_timeout")
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: missing listen address")
	}
	return nil
}

// NewPool builds the buffer pool selected by the configuration.
func (c Config) NewPool() (BufferPool, error) {
	if strings.ToLower(c.Pool) == PoolPuddle {
		return NewPuddleBufferPool(c.BufferCapacity, int32(c.PoolSize))
	}
	return NewBufferPool(c.BufferCapacity, c.PoolSize)
}

// ConnectorOptions translates the configuration into connector options.
func (c Config) ConnectorOptions() []ConnectorOption {
	opts := []ConnectorOption{WithReadTimeout(c.ReadTimeout.Duration)}
	if c.Breaker.Enabled {
		opts = append(opts, WithBreaker(gobreaker.Settings{
			Name:        "revwire-" + c.Listen,
			MaxRequests: c.Breaker.MaxRequests,
			Interval:    c.Breaker.Interval.Duration,
			Timeout:     c.Breaker.Timeout.Duration,
		}))
	}
	return opts
}
