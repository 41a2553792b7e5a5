// Package counters turns resolved events into a kpc register configuration
// and runs synchronous counting sessions over it.
package counters

import (
	"errors"
	"fmt"

	"github.com/infraprobe/xnuperf/internal/kpep"
	"github.com/infraprobe/xnuperf/internal/kperf"
	"github.com/infraprobe/xnuperf/pkg/types"
)

// Builder is the slice of the platform binding that configuration building
// drives.
type Builder interface {
	ConfigCreate(db kperf.DB) (kperf.Config, error)
	ConfigFree(cfg kperf.Config)
	ConfigForceCounters(cfg kperf.Config) error
	ConfigAddEvent(cfg kperf.Config, ev kperf.Event, flag uint32) (uint32, error)
	ConfigClasses(cfg kperf.Config) (uint32, error)
	ConfigKPCCount(cfg kperf.Config) (int, error)
	ConfigKPC(cfg kperf.Config, count int) ([]uint64, error)
	ConfigKPCMap(cfg kperf.Config, events int) ([]int, error)
}

// ConflictError reports events the hardware cannot count simultaneously.
// Bitmap marks the input indices that clash, e.g. 1<<2 for index 2.
type ConflictError struct {
	Alias  string
	Bitmap uint32
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting events adding %s (bitmap %#x)", e.Alias, e.Bitmap)
}

// Config is an immutable register assignment for a set of events.
type Config struct {
	Classes  uint32   // active class mask
	Regs     []uint64 // raw register values, one per register
	EventMap []int    // event index -> register index
	Events   []kpep.ResolvedEvent
}

// Build creates a kernel counter configuration for the events, in order:
// create, force-reserve all counters, add each event, then query the class
// mask, register values and the event-to-register map. Each failure aborts
// with the originating error.
func Build(b Builder, db kperf.DB, events []kpep.ResolvedEvent) (*Config, error) {
	cfg, err := b.ConfigCreate(db)
	if err != nil {
		return nil, fmt.Errorf("create config: %w", err)
	}
	defer b.ConfigFree(cfg)

	if err := b.ConfigForceCounters(cfg); err != nil {
		return nil, fmt.Errorf("force counters: %w", err)
	}
	for _, ev := range events {
		bitmap, err := b.ConfigAddEvent(cfg, ev.Handle, 0)
		if err != nil {
			if errors.Is(err, kperf.KPEP_CONFIG_ERROR_CONFLICTING_EVENTS) {
				return nil, &ConflictError{Alias: ev.Alias, Bitmap: bitmap}
			}
			return nil, fmt.Errorf("add event %s: %w", ev.Alias, err)
		}
	}

	classes, err := b.ConfigClasses(cfg)
	if err != nil {
		return nil, fmt.Errorf("get kpc classes: %w", err)
	}
	regCount, err := b.ConfigKPCCount(cfg)
	if err != nil {
		return nil, fmt.Errorf("get kpc count: %w", err)
	}
	regs, err := b.ConfigKPC(cfg, regCount)
	if err != nil {
		return nil, fmt.Errorf("get kpc registers: %w", err)
	}
	emap, err := b.ConfigKPCMap(cfg, len(events))
	if err != nil {
		return nil, fmt.Errorf("get kpc map: %w", err)
	}

	out := &Config{Classes: classes, Regs: regs, EventMap: emap, Events: events}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Config) validate() error {
	if len(c.EventMap) != len(c.Events) {
		return fmt.Errorf("kpc map has %d entries for %d events", len(c.EventMap), len(c.Events))
	}
	for i, reg := range c.EventMap {
		// With no configurable registers (fixed-only), entries still index
		// the readable counter range.
		if reg < 0 || reg >= types.KPC_MAX_COUNTERS || (len(c.Regs) > 0 && reg >= len(c.Regs)) {
			return fmt.Errorf("event %d maps to register %d of %d", i, reg, len(c.Regs))
		}
	}
	return nil
}
