// Package chaos injects drops, duplicates and reordering into a stream.
package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"marketmaker/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64   `yaml:"seed"`
	DropRate      float64 `yaml:"dropRate"`
	DuplicateRate float64 `yaml:"duplicateRate"`
	ReorderWindow int     `yaml:"reorderWindow"`
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "dropRate must be between 0 and 1").With("dropRate", c.DropRate)
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "duplicateRate must be between 0 and 1").With("duplicateRate", c.DuplicateRate)
	}
	if c.ReorderWindow <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "reorderWindow must be >= 1").With("reorderWindow", c.ReorderWindow)
	}
	return nil
}

// Engine applies chaos rules to values of T. It is not safe for concurrent use.
type Engine[T any] struct {
	cfg     Config
	rng     *rand.Rand
	pending []T
}

// NewEngine creates a chaos engine with validation.
func NewEngine[T any](cfg Config) (*Engine[T], error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine[T]{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Process applies chaos to a single value and returns any output values.
// A nil engine passes everything through.
func (e *Engine[T]) Process(v T) []T {
	if e == nil {
		return []T{v}
	}
	if e.shouldDrop() {
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(v)
	}
	e.pending = append(e.pending, v)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any buffered values.
func (e *Engine[T]) Flush() []T {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]T, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		v := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(v)...)
	}
	return out
}

func (e *Engine[T]) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine[T]) applyDuplicate(v T) []T {
	out := []T{v}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, v)
	}
	return out
}
