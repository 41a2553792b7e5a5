package counters

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/infraprobe/xnuperf/pkg/logutil"
	"github.com/infraprobe/xnuperf/pkg/types"
)

// ErrPermission means the kernel refused counter access; kpc requires root.
var ErrPermission = errors.New("permission denied, xnu/kpc requires root privileges")

// Kernel is the slice of the platform binding a counting session drives.
type Kernel interface {
	ForceAllCtrs() (int, error)
	SetForceAllCtrs(val int) error
	SetConfig(classes uint32, regs []uint64) error
	SetCounting(classes uint32) error
	SetThreadCounting(classes uint32) error
	ThreadCounters(buf []uint64) error
}

// EventDelta is one named event's change over the counted region.
type EventDelta struct {
	Alias string
	Value uint64
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateConfigured
	stateCounting
	stateStopped
)

// Session counts a synchronous code region on the current thread. States
// move Idle -> Configured -> Counting -> Stopped; transitions out of order
// are errors.
type Session struct {
	k      Kernel
	cfg    *Config
	state  sessionState
	before []uint64
	after  []uint64
}

func NewSession(k Kernel, cfg *Config) *Session {
	return &Session{
		k:      k,
		cfg:    cfg,
		before: make([]uint64, types.KPC_MAX_COUNTERS),
		after:  make([]uint64, types.KPC_MAX_COUNTERS),
	}
}

// Configure probes permission, acquires the forced-counter reservation and
// writes the configurable registers if any are needed. Fixed-class counters
// are hardware fixed-function and need no register write.
func (s *Session) Configure() error {
	if s.state != stateIdle {
		return fmt.Errorf("configure: session already configured")
	}
	if _, err := s.k.ForceAllCtrs(); err != nil {
		return ErrPermission
	}
	if err := s.k.SetForceAllCtrs(1); err != nil {
		return fmt.Errorf("force all ctrs: %w", err)
	}
	if s.cfg.Classes&types.KPC_CLASS_CONFIGURABLE_MASK != 0 && len(s.cfg.Regs) > 0 {
		if err := s.k.SetConfig(s.cfg.Classes, s.cfg.Regs); err != nil {
			// The forced reservation stays held here; there is no rollback
			// mid-sequence. Callers are expected to tear down on failure.
			return fmt.Errorf("set kpc config: %w", err)
		}
	}
	s.state = stateConfigured
	return nil
}

// Start enables counting globally and for this thread, then captures the
// baseline snapshot. The snapshot must follow the enable or deltas
// undercount.
func (s *Session) Start() error {
	if s.state != stateConfigured {
		return fmt.Errorf("start: session not configured")
	}
	if err := s.k.SetCounting(s.cfg.Classes); err != nil {
		return fmt.Errorf("set counting: %w", err)
	}
	if err := s.k.SetThreadCounting(s.cfg.Classes); err != nil {
		return fmt.Errorf("set thread counting: %w", err)
	}
	if err := s.k.ThreadCounters(s.before); err != nil {
		return fmt.Errorf("get thread counters before: %w", err)
	}
	s.state = stateCounting
	return nil
}

// Stop captures the closing snapshot, tears counting down and returns the
// per-event deltas. Teardown always runs; its failures are logged, not
// returned. Only a snapshot read failure is fatal.
func (s *Session) Stop() ([]EventDelta, error) {
	if s.state != stateCounting {
		return nil, fmt.Errorf("stop: session not counting")
	}
	readErr := s.k.ThreadCounters(s.after)

	terr := multierr.Combine(
		s.k.SetThreadCounting(0),
		s.k.SetCounting(0),
		s.k.SetForceAllCtrs(0),
	)
	if terr != nil {
		logutil.GetLogger().Warn("counting teardown incomplete", zap.Error(terr))
	}
	s.state = stateStopped

	if readErr != nil {
		return nil, fmt.Errorf("get thread counters after: %w", readErr)
	}
	return deltas(s.cfg, s.before, s.after), nil
}

// deltas projects the two snapshots through the event-to-register map.
// Counters are monotonic while enabled; wraparound is not handled.
func deltas(cfg *Config, before, after []uint64) []EventDelta {
	out := make([]EventDelta, len(cfg.Events))
	for i, ev := range cfg.Events {
		reg := cfg.EventMap[i]
		out[i] = EventDelta{Alias: ev.Alias, Value: after[reg] - before[reg]}
	}
	return out
}
