package api

import "time"

// Config configures the presign redemption HTTP server.
//
// When Enabled is false, no server is started (zero overhead).
type Config struct {
	// Enabled controls whether the redemption server is started.
	// Default: true. A pointer distinguishes "not set" from
	// "explicitly false".
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port the redemption endpoints listen on.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. Zero or negative means no timeout.
	// Default: 30s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Zero or negative means no timeout.
	// Default: 30s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request when
	// keep-alives are enabled. If zero, ReadTimeout is used.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled returns whether the redemption server is enabled.
// Defaults to true if not explicitly set.
func (c *Config) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
