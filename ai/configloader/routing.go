package configloader

import (
	"fmt"
	"time"

	"github.com/hrygo/shepherd/ai/routing"
)

// RoutingFile is the on-disk form of routing.Config. Omitted keys keep the
// values of the base config passed to LoadRouting.
//
//	models:
//	  premium: gpt-4o
//	  compact: gpt-4o-mini
//	timeouts:
//	  simple: 15s
//	  complex: 45s
//	fallback:
//	  timeout: 15s
//	  max_tokens: 1000
//	  temperature: 0.5
//	compact_mode: false
type RoutingFile struct {
	Models struct {
		Premium string `yaml:"premium"`
		Compact string `yaml:"compact"`
	} `yaml:"models"`
	Timeouts map[string]time.Duration `yaml:"timeouts"`
	Fallback struct {
		Timeout     time.Duration `yaml:"timeout"`
		MaxTokens   int           `yaml:"max_tokens"`
		Temperature *float32      `yaml:"temperature"`
	} `yaml:"fallback"`
	CompactMode *bool `yaml:"compact_mode"`
}

// LoadRouting reads subPath and overlays it on base.
func (l *Loader) LoadRouting(subPath string, base routing.Config) (routing.Config, error) {
	var file RoutingFile
	if err := l.Load(subPath, &file); err != nil {
		return base, err
	}
	cfg, err := file.Apply(base)
	if err != nil {
		return base, fmt.Errorf("routing config %s: %w", subPath, err)
	}
	return cfg, nil
}

// Apply overlays the file on base and validates the result.
func (f RoutingFile) Apply(base routing.Config) (routing.Config, error) {
	cfg := base
	if f.Models.Premium != "" {
		cfg.Models.Premium = f.Models.Premium
	}
	if f.Models.Compact != "" {
		cfg.Models.Compact = f.Models.Compact
	}

	if len(f.Timeouts) > 0 {
		timeouts := make(routing.TimeoutTable, len(base.Timeouts)+len(f.Timeouts))
		for route, d := range base.Timeouts {
			timeouts[route] = d
		}
		for name, d := range f.Timeouts {
			route := routing.RouteType(name)
			switch route {
			case routing.RouteSimple, routing.RouteComplex, routing.RouteCreative, routing.RouteDefault:
			default:
				return base, fmt.Errorf("unknown route type %q", name)
			}
			timeouts[route] = d
		}
		cfg.Timeouts = timeouts
	}

	if f.Fallback.Timeout != 0 {
		cfg.FallbackTimeout = f.Fallback.Timeout
	}
	if f.Fallback.MaxTokens != 0 {
		cfg.FallbackMaxTokens = f.Fallback.MaxTokens
	}
	if f.Fallback.Temperature != nil {
		cfg.FallbackTemperature = *f.Fallback.Temperature
	}
	if f.CompactMode != nil {
		cfg.CompactMode = *f.CompactMode
	}

	if cfg.FallbackTimeout < 0 || cfg.FallbackMaxTokens < 0 || cfg.FallbackTemperature < 0 {
		return base, fmt.Errorf("fallback settings must not be negative")
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
