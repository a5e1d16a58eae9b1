package routing

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// RouteType labels a request for timeout lookup.
type RouteType string

const (
	RouteSimple   RouteType = "simple"
	RouteComplex  RouteType = "complex"
	RouteCreative RouteType = "creative"
	RouteDefault  RouteType = "default"
)

// Defaults for the routing policy.
const (
	DefaultModelPremium = "gpt-4o"
	DefaultModelCompact = "gpt-4o-mini"

	DefaultRouteTimeout        = 30 * time.Second
	DefaultFallbackTimeout     = 15 * time.Second
	DefaultFallbackMaxTokens   = 1000
	DefaultFallbackTemperature = 0.5

	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	MaxTemperature     = 2.0
)

// TimeoutTable maps a route type to the primary attempt deadline.
type TimeoutTable map[RouteType]time.Duration

// DefaultTimeouts returns the built-in timeout table.
func DefaultTimeouts() TimeoutTable {
	return TimeoutTable{
		RouteSimple:   15 * time.Second,
		RouteComplex:  45 * time.Second,
		RouteCreative: 60 * time.Second,
		RouteDefault:  DefaultRouteTimeout,
	}
}

// For returns the timeout for route, falling back to the default entry
// for unknown or unset routes.
func (t TimeoutTable) For(route RouteType) time.Duration {
	if d, ok := t[route]; ok && d > 0 {
		return d
	}
	if d, ok := t[RouteDefault]; ok && d > 0 {
		return d
	}
	return DefaultRouteTimeout
}

// Config is fixed when the Router is constructed, except for CompactMode
// which only seeds the runtime flag.
type Config struct {
	Models              Models
	Timeouts            TimeoutTable
	FallbackTimeout     time.Duration
	FallbackMaxTokens   int
	FallbackTemperature float32
	CompactMode         bool
}

// DefaultConfig returns the built-in routing policy.
func DefaultConfig() Config {
	return Config{
		Models: Models{
			Premium: DefaultModelPremium,
			Compact: DefaultModelCompact,
		},
		Timeouts:            DefaultTimeouts(),
		FallbackTimeout:     DefaultFallbackTimeout,
		FallbackMaxTokens:   DefaultFallbackMaxTokens,
		FallbackTemperature: DefaultFallbackTemperature,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Models.Premium == "" {
		c.Models.Premium = def.Models.Premium
	}
	if c.Models.Compact == "" {
		c.Models.Compact = def.Models.Compact
	}
	timeouts := def.Timeouts
	maps.Copy(timeouts, c.Timeouts)
	c.Timeouts = timeouts
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = def.FallbackTimeout
	}
	if c.FallbackMaxTokens <= 0 {
		c.FallbackMaxTokens = def.FallbackMaxTokens
	}
	if c.FallbackTemperature <= 0 {
		c.FallbackTemperature = def.FallbackTemperature
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for route, d := range c.Timeouts {
		if d < 0 {
			return fmt.Errorf("negative timeout for route %q", route)
		}
	}
	if c.FallbackTemperature > MaxTemperature {
		return fmt.Errorf("fallback temperature %.2f exceeds %.1f", c.FallbackTemperature, MaxTemperature)
	}
	return nil
}

// Settings holds the operator-controlled runtime flags of one Router.
type Settings struct {
	compactMode atomic.Bool
}

// CompactMode reports whether cost-saving mode is on.
func (s *Settings) CompactMode() bool {
	return s.compactMode.Load()
}

// SetCompactMode sets the flag and returns the previous value.
func (s *Settings) SetCompactMode(enabled bool) bool {
	return s.compactMode.Swap(enabled)
}
