// Package factory builds the configured real source adapters.
package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/adapter/acc"
	"github.com/mpapenbr/simcoach/pkg/adapter/ams2"
	"github.com/mpapenbr/simcoach/pkg/adapter/lmu"
	"github.com/mpapenbr/simcoach/pkg/adapter/shm"
)

var (
	ErrUnknownSource   = errors.New("unknown source")
	ErrDuplicateSource = errors.New("duplicate source")
)

const (
	SourceACC  = "acc"
	SourceLMU  = "lmu"
	SourceAMS2 = "ams2"
)

func KnownSources() []string {
	return []string{SourceACC, SourceLMU, SourceAMS2}
}

type Config struct {
	Sources []string
	ACC     acc.Config
	LMU     lmu.Config
	AMS2    ams2.Config
	// Opener replaces the platform shared memory opener if set.
	Opener shm.Opener
	Logger *log.Logger
}

func DefaultConfig() Config {
	return Config{
		Sources: KnownSources(),
		ACC:     acc.DefaultConfig(),
		LMU:     lmu.DefaultConfig(),
		AMS2:    ams2.DefaultConfig(),
	}
}

// Build returns the adapters in the order of cfg.Sources.
func Build(cfg Config) ([]adapter.Adapter, error) {
	l := cfg.Logger
	if l == nil {
		l = log.Default()
	}
	seen := map[string]bool{}
	ret := make([]adapter.Adapter, 0, len(cfg.Sources))
	for _, raw := range cfg.Sources {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, name)
		}
		seen[name] = true
		a, err := build(name, &cfg, l)
		if err != nil {
			return nil, err
		}
		ret = append(ret, a)
	}
	return ret, nil
}

func build(name string, cfg *Config, l *log.Logger) (adapter.Adapter, error) {
	switch name {
	case SourceACC:
		opts := []acc.Option{acc.WithConfig(cfg.ACC), acc.WithLogger(l.Named(name))}
		if cfg.Opener != nil {
			opts = append(opts, acc.WithOpener(cfg.Opener))
		}
		return acc.New(opts...), nil
	case SourceLMU:
		opts := []lmu.Option{lmu.WithConfig(cfg.LMU), lmu.WithLogger(l.Named(name))}
		if cfg.Opener != nil {
			opts = append(opts, lmu.WithOpener(cfg.Opener))
		}
		return lmu.New(opts...), nil
	case SourceAMS2:
		return ams2.New(ams2.WithConfig(cfg.AMS2), ams2.WithLogger(l.Named(name))), nil
	default:
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSource, name,
			strings.Join(KnownSources(), ", "))
	}
}
