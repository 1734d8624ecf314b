package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yaml "github.com/goccy/go-yaml"
	"golang.org/x/exp/constraints"

	"rtkern/internal/arch"
)

// Config mirrors config.yml
type Config struct {
	TickMS      int    `yaml:"tick_ms"`      // 1 (by default)
	StackWords  int    `yaml:"stack_words"`  // 256 (by default)
	MinPriority int    `yaml:"min_priority"` // 0 (by default), the idle task sits one below
	MaxPriority int    `yaml:"max_priority"` // 31 (by default)
	EventBuffer int    `yaml:"event_buffer"` // 256 (by default)
	TraceCSV    string `yaml:"trace_csv"`    // empty = no CSV trace
}

const (
	maxStackWords  = 1 << 16
	priorityBounds = 1 << 20
)

// DefaultConfig is used when no config file is found.
func DefaultConfig() Config {
	return Config{
		TickMS:      1,
		StackWords:  256,
		MinPriority: 0,
		MaxPriority: 31,
		EventBuffer: 256,
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file =
// defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg.sanitized(), nil
}

// sanity clamps
func (cfg Config) sanitized() Config {
	def := DefaultConfig()
	if cfg.TickMS <= 0 {
		cfg.TickMS = def.TickMS
	}
	if cfg.StackWords <= 0 {
		cfg.StackWords = def.StackWords
	}
	cfg.StackWords = clamp(cfg.StackWords, 2*arch.FrameWords, maxStackWords)
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	cfg.MinPriority = clamp(cfg.MinPriority, -priorityBounds, priorityBounds)
	cfg.MaxPriority = clamp(cfg.MaxPriority, -priorityBounds, priorityBounds)
	if cfg.MaxPriority < cfg.MinPriority {
		cfg.MinPriority, cfg.MaxPriority = def.MinPriority, def.MaxPriority
	}
	return cfg
}

// IdlePriority is the priority of the idle task, strictly below every user task.
func (cfg Config) IdlePriority() int {
	return cfg.MinPriority - 1
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
