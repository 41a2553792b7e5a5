// Package kpep resolves human-readable event aliases against the CPU's PMC
// database. The database itself lives behind the kperfdata framework; this
// package owns alias fallback resolution and the database lifecycle.
package kpep

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/infraprobe/xnuperf/internal/kperf"
	"github.com/infraprobe/xnuperf/pkg/logutil"
	"github.com/infraprobe/xnuperf/pkg/types"
)

// Binding is the slice of the platform binding the catalog drives.
type Binding interface {
	DBOpen(name string) (kperf.DB, error)
	DBFree(db kperf.DB)
	DBName(db kperf.DB) (string, error)
	DBEvent(db kperf.DB, name string) (kperf.Event, error)
	DBCountersCount(db kperf.DB, classes uint8) (int, error)
}

// ResolvedEvent is an alias resolved to a concrete database event. The
// handle is owned by the catalog's database and stays valid until Close.
type ResolvedEvent struct {
	Alias  string
	Name   string // the database name that matched
	Handle kperf.Event
}

// EventNotFoundError names the alias that has no matching hardware event on
// this CPU. Fatal for the caller; the event list needs adjusting.
type EventNotFoundError struct {
	Alias string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("cannot find event: %s", e.Alias)
}

type Catalog struct {
	b  Binding
	db kperf.DB

	Name           string
	FixedCounters  int
	ConfigCounters int
}

// Open loads the PMC database for the current CPU. Database errors from the
// binding (not found, unsupported architecture, corrupt) propagate verbatim.
func Open(b Binding) (*Catalog, error) {
	db, err := b.DBOpen("")
	if err != nil {
		return nil, fmt.Errorf("cannot load pmc database: %w", err)
	}
	c := &Catalog{b: b, db: db}
	c.Name, _ = b.DBName(db)
	c.FixedCounters, _ = b.DBCountersCount(db, types.KPC_CLASS_FIXED_MASK)
	c.ConfigCounters, _ = b.DBCountersCount(db, types.KPC_CLASS_CONFIGURABLE_MASK)

	logutil.GetLogger().Info("loaded pmc database",
		zap.String("name", c.Name),
		zap.Int("fixed_counters", c.FixedCounters),
		zap.Int("configurable_counters", c.ConfigCounters))
	return c, nil
}

// Resolve tries each candidate name in order and returns the first hit.
func (c *Catalog) Resolve(alias EventAlias) (ResolvedEvent, error) {
	for _, name := range alias.Names {
		ev, err := c.b.DBEvent(c.db, name)
		if err == nil {
			return ResolvedEvent{Alias: alias.Alias, Name: name, Handle: ev}, nil
		}
	}
	return ResolvedEvent{}, &EventNotFoundError{Alias: alias.Alias}
}

// ResolveAll resolves every alias, failing on the first one with no match.
func (c *Catalog) ResolveAll(aliases []EventAlias) ([]ResolvedEvent, error) {
	events := make([]ResolvedEvent, 0, len(aliases))
	for _, a := range aliases {
		ev, err := c.Resolve(a)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// DB exposes the database handle for configuration building.
func (c *Catalog) DB() kperf.DB { return c.db }

func (c *Catalog) Close() {
	if c.db != 0 {
		c.b.DBFree(c.db)
		c.db = 0
	}
}
