package counters

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/infraprobe/xnuperf/internal/kpep"
	"github.com/infraprobe/xnuperf/internal/kperf"
	"github.com/infraprobe/xnuperf/pkg/types"
)

type fakeBuilder struct {
	classes  uint32
	regs     []uint64
	emap     []int
	forceErr error

	conflictAt     int // index of the add that conflicts, -1 for none
	conflictBitmap uint32

	added []kperf.Event
	freed bool
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{conflictAt: -1}
}

func (f *fakeBuilder) ConfigCreate(db kperf.DB) (kperf.Config, error) { return 7, nil }
func (f *fakeBuilder) ConfigFree(cfg kperf.Config)                    { f.freed = true }
func (f *fakeBuilder) ConfigForceCounters(cfg kperf.Config) error     { return f.forceErr }

func (f *fakeBuilder) ConfigAddEvent(cfg kperf.Config, ev kperf.Event, flag uint32) (uint32, error) {
	if f.conflictAt == len(f.added) {
		return f.conflictBitmap, kperf.KPEP_CONFIG_ERROR_CONFLICTING_EVENTS
	}
	f.added = append(f.added, ev)
	return 0, nil
}

func (f *fakeBuilder) ConfigClasses(cfg kperf.Config) (uint32, error) { return f.classes, nil }
func (f *fakeBuilder) ConfigKPCCount(cfg kperf.Config) (int, error)   { return len(f.regs), nil }

func (f *fakeBuilder) ConfigKPC(cfg kperf.Config, count int) ([]uint64, error) {
	return f.regs[:count], nil
}

func (f *fakeBuilder) ConfigKPCMap(cfg kperf.Config, events int) ([]int, error) {
	return f.emap[:events], nil
}

func twoEvents() []kpep.ResolvedEvent {
	return []kpep.ResolvedEvent{
		{Alias: "cycles", Name: "FIXED_CYCLES", Handle: 101},
		{Alias: "instructions", Name: "FIXED_INSTRUCTIONS", Handle: 102},
	}
}

func TestBuildMapsEventsToRegisters(t *testing.T) {
	fake := newFakeBuilder()
	fake.classes = types.KPC_CLASS_CONFIGURABLE_MASK
	fake.regs = []uint64{0xAA, 0xBB, 0xCC}
	fake.emap = []int{2, 0}

	cfg, err := Build(fake, 1, twoEvents())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cfg.EventMap) != 2 {
		t.Fatalf("EventMap has %d entries, want 2", len(cfg.EventMap))
	}
	for i, reg := range cfg.EventMap {
		if reg >= len(cfg.Regs) {
			t.Errorf("event %d maps to register %d, only %d registers", i, reg, len(cfg.Regs))
		}
	}
	if diff := cmp.Diff([]uint64{0xAA, 0xBB, 0xCC}, cfg.Regs); diff != "" {
		t.Errorf("Regs mismatch (-want +got):\n%s", diff)
	}
	if !fake.freed {
		t.Error("Build did not free the kpep config")
	}
}

func TestBuildAddsEventsInCallerOrder(t *testing.T) {
	fake := newFakeBuilder()
	fake.classes = types.KPC_CLASS_FIXED_MASK
	fake.emap = []int{0, 1}

	if _, err := Build(fake, 1, twoEvents()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]kperf.Event{101, 102}, fake.added); diff != "" {
		t.Errorf("events added out of order (-want +got):\n%s", diff)
	}
}

func TestBuildFixedOnlySkipsRegisters(t *testing.T) {
	// fixed-function counters need no register values at all
	fake := newFakeBuilder()
	fake.classes = types.KPC_CLASS_FIXED_MASK
	fake.regs = nil
	fake.emap = []int{0, 1}

	cfg, err := Build(fake, 1, twoEvents())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cfg.Regs) != 0 {
		t.Errorf("Regs = %v, want empty for fixed-only", cfg.Regs)
	}
	if len(cfg.EventMap) != 2 {
		t.Errorf("EventMap has %d entries, want 2", len(cfg.EventMap))
	}
}

func TestBuildConflictCarriesBitmap(t *testing.T) {
	fake := newFakeBuilder()
	fake.conflictAt = 1
	fake.conflictBitmap = 1 << 0

	_, err := Build(fake, 1, twoEvents())
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Build error = %v, want ConflictError", err)
	}
	if conflict.Bitmap != 1<<0 {
		t.Errorf("Bitmap = %#x, want %#x", conflict.Bitmap, 1<<0)
	}
	if conflict.Alias != "instructions" {
		t.Errorf("Alias = %q, want instructions", conflict.Alias)
	}
}

func TestBuildCountersNotForced(t *testing.T) {
	fake := newFakeBuilder()
	fake.forceErr = kperf.KPEP_CONFIG_ERROR_COUNTERS_NOT_FORCED

	_, err := Build(fake, 1, twoEvents())
	if !errors.Is(err, kperf.KPEP_CONFIG_ERROR_COUNTERS_NOT_FORCED) {
		t.Fatalf("Build error = %v, want counters-not-forced", err)
	}
	if !fake.freed {
		t.Error("Build did not free the kpep config on failure")
	}
}

func TestBuildRejectsBadMap(t *testing.T) {
	fake := newFakeBuilder()
	fake.classes = types.KPC_CLASS_CONFIGURABLE_MASK
	fake.regs = []uint64{0xAA}
	fake.emap = []int{0, 3} // register 3 does not exist

	if _, err := Build(fake, 1, twoEvents()); err == nil {
		t.Fatal("Build accepted a map entry past the register list")
	}
}
