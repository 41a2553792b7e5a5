package kpep

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/infraprobe/xnuperf/internal/kperf"
)

type fakeBinding struct {
	events  map[string]kperf.Event
	openErr error
	freed   bool
}

func (f *fakeBinding) DBOpen(name string) (kperf.DB, error) {
	if f.openErr != nil {
		return 0, f.openErr
	}
	return 1, nil
}

func (f *fakeBinding) DBFree(db kperf.DB) { f.freed = true }

func (f *fakeBinding) DBName(db kperf.DB) (string, error) { return "test_db", nil }

func (f *fakeBinding) DBEvent(db kperf.DB, name string) (kperf.Event, error) {
	if ev, ok := f.events[name]; ok {
		return ev, nil
	}
	return 0, kperf.KPEP_CONFIG_ERROR_EVENT_NOT_FOUND
}

func (f *fakeBinding) DBCountersCount(db kperf.DB, classes uint8) (int, error) {
	return 2, nil
}

func TestResolveFirstMatchWins(t *testing.T) {
	// both candidates exist; the earlier one must win
	fake := &fakeBinding{events: map[string]kperf.Event{
		"FIXED_CYCLES":            101,
		"CPU_CLK_UNHALTED.THREAD": 102,
	}}
	c, err := Open(fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := c.Resolve(EventAlias{Alias: "cycles", Names: []string{
		"FIXED_CYCLES", "CPU_CLK_UNHALTED.THREAD",
	}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := ResolvedEvent{Alias: "cycles", Name: "FIXED_CYCLES", Handle: 101}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFallsBack(t *testing.T) {
	fake := &fakeBinding{events: map[string]kperf.Event{
		"CPU_CLK_UNHALTED.CORE": 103,
	}}
	c, err := Open(fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := c.Resolve(EventAlias{Alias: "cycles", Names: []string{
		"FIXED_CYCLES", "CPU_CLK_UNHALTED.THREAD", "CPU_CLK_UNHALTED.CORE",
	}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name != "CPU_CLK_UNHALTED.CORE" || got.Handle != 103 {
		t.Errorf("Resolve = %+v, want CPU_CLK_UNHALTED.CORE/103", got)
	}
}

func TestResolveNotFoundNamesAlias(t *testing.T) {
	fake := &fakeBinding{events: map[string]kperf.Event{}}
	c, err := Open(fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = c.Resolve(EventAlias{Alias: "branch-misses", Names: []string{"BRANCH_MISPREDICT"}})
	var nf *EventNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Resolve error = %v, want EventNotFoundError", err)
	}
	if nf.Alias != "branch-misses" {
		t.Errorf("error names alias %q, want branch-misses", nf.Alias)
	}
}

func TestResolveAllStopsAtFirstMiss(t *testing.T) {
	fake := &fakeBinding{events: map[string]kperf.Event{"FIXED_CYCLES": 1}}
	c, err := Open(fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = c.ResolveAll([]EventAlias{
		{Alias: "cycles", Names: []string{"FIXED_CYCLES"}},
		{Alias: "instructions", Names: []string{"FIXED_INSTRUCTIONS"}},
	})
	var nf *EventNotFoundError
	if !errors.As(err, &nf) || nf.Alias != "instructions" {
		t.Fatalf("ResolveAll error = %v, want EventNotFoundError for instructions", err)
	}
}

func TestOpenPropagatesDatabaseError(t *testing.T) {
	fake := &fakeBinding{openErr: kperf.KPEP_CONFIG_ERROR_DB_NOT_FOUND}
	_, err := Open(fake)
	if !errors.Is(err, kperf.KPEP_CONFIG_ERROR_DB_NOT_FOUND) {
		t.Fatalf("Open error = %v, want database not found", err)
	}
}

func TestCloseFreesDatabase(t *testing.T) {
	fake := &fakeBinding{events: map[string]kperf.Event{}}
	c, err := Open(fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.Close()
	if !fake.freed {
		t.Error("Close did not free the database handle")
	}
}
