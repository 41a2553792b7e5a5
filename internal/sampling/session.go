// Package sampling profiles a target process (or every thread) by letting
// the kernel sample per-thread PMC values on a PET timer and draining the
// matching kdebug records into per-thread counter windows.
package sampling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/infraprobe/xnuperf/internal/counters"
	"github.com/infraprobe/xnuperf/internal/kdebug"
	"github.com/infraprobe/xnuperf/pkg/logutil"
	"github.com/infraprobe/xnuperf/pkg/types"
)

// Kernel is the slice of the platform binding a sampling session drives.
type Kernel interface {
	CounterCount(classes uint32) uint32
	ForceAllCtrs() (int, error)
	SetForceAllCtrs(val int) error
	SetConfig(classes uint32, regs []uint64) error
	SetCounting(classes uint32) error
	SetThreadCounting(classes uint32) error
	ActionCountSet(n uint32) error
	ActionSamplersSet(actionID, samplers uint32) error
	ActionFilterByPID(actionID uint32, pid int) error
	TimerCountSet(n uint32) error
	TimerPeriodSet(timerID uint32, ticks uint64) error
	TimerActionSet(timerID, actionID uint32) error
	TimerPETSet(timerID uint32) error
	SetSampling(on bool) error
	SetLightweightPET(on bool) error
	NSToTicks(ns uint64) uint64
	TicksToNS(ticks uint64) uint64
}

type Options struct {
	TargetPID    int           // -1 samples every process
	Duration     time.Duration // wall-clock collection window
	SamplePeriod time.Duration // PET timer period
	BufEntries   int           // kernel trace capacity, in records
}

// ThreadReport is one thread's counter deltas over its sampled window.
type ThreadReport struct {
	TID       uint64
	ElapsedNS uint64
	Deltas    []counters.EventDelta
}

// Report is the outcome of one sampling session.
type Report struct {
	Threads []ThreadReport
	Total   []counters.EventDelta // summed across threads
}

// The one action and timer slot this session claims from the kernel pools.
const (
	actionID = 1
	timerID  = 1
)

const defaultBufEntries = 1000000

type Session struct {
	k   Kernel
	ch  kdebug.Channel
	cfg *counters.Config
	opt Options

	counterCount int
	filterID     uint32
}

func NewSession(k Kernel, ch kdebug.Channel, cfg *counters.Config, opt Options) *Session {
	if opt.BufEntries <= 0 {
		opt.BufEntries = defaultBufEntries
	}
	if opt.SamplePeriod <= 0 {
		opt.SamplePeriod = time.Millisecond
	}
	return &Session{
		k:        k,
		ch:       ch,
		cfg:      cfg,
		opt:      opt,
		filterID: kdebug.EventID(kdebug.DBG_PERF, kdebug.PERF_KPC, kdebug.PERF_KPC_DATA_THREAD),
	}
}

// Run performs setup, collects until the window closes or ctx is cancelled,
// tears everything down and decodes the per-thread report. Teardown always
// runs, even when setup or collection failed.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	defer s.teardown()

	if err := s.setup(); err != nil {
		return nil, err
	}
	recs, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no thread pmc data collected")
	}
	samples := decodeThreadSamples(recs, s.counterCount)
	return s.report(samples), nil
}

func (s *Session) setup() error {
	if _, err := s.k.ForceAllCtrs(); err != nil {
		return counters.ErrPermission
	}
	if err := s.k.SetForceAllCtrs(1); err != nil {
		return fmt.Errorf("force all ctrs: %w", err)
	}
	if s.cfg.Classes&types.KPC_CLASS_CONFIGURABLE_MASK != 0 && len(s.cfg.Regs) > 0 {
		if err := s.k.SetConfig(s.cfg.Classes, s.cfg.Regs); err != nil {
			return fmt.Errorf("set kpc config: %w", err)
		}
	}
	s.counterCount = int(s.k.CounterCount(s.cfg.Classes))
	if s.counterCount == 0 {
		return fmt.Errorf("no readable counters for class mask %#x", s.cfg.Classes)
	}
	if err := s.k.SetCounting(s.cfg.Classes); err != nil {
		return fmt.Errorf("set counting: %w", err)
	}
	if err := s.k.SetThreadCounting(s.cfg.Classes); err != nil {
		return fmt.Errorf("set thread counting: %w", err)
	}

	// claim one action and one timer from the kernel pools
	if err := s.k.ActionCountSet(types.KPERF_ACTION_MAX); err != nil {
		return fmt.Errorf("set action count: %w", err)
	}
	if err := s.k.TimerCountSet(types.KPERF_TIMER_MAX); err != nil {
		return fmt.Errorf("set timer count: %w", err)
	}
	if err := s.k.ActionSamplersSet(actionID, types.KPERF_SAMPLER_PMC_THREAD); err != nil {
		return fmt.Errorf("set sampler type: %w", err)
	}
	if err := s.k.ActionFilterByPID(actionID, s.opt.TargetPID); err != nil {
		return fmt.Errorf("set filter pid: %w", err)
	}

	ticks := s.k.NSToTicks(uint64(s.opt.SamplePeriod.Nanoseconds()))
	if err := s.k.TimerPeriodSet(timerID, ticks); err != nil {
		return fmt.Errorf("set timer period: %w", err)
	}
	if err := s.k.TimerActionSet(timerID, actionID); err != nil {
		return fmt.Errorf("set timer action: %w", err)
	}
	if err := s.k.TimerPETSet(timerID); err != nil {
		return fmt.Errorf("set timer pet: %w", err)
	}
	if err := s.k.SetLightweightPET(true); err != nil {
		return fmt.Errorf("set lightweight pet: %w", err)
	}
	if err := s.k.SetSampling(true); err != nil {
		return fmt.Errorf("start sampling: %w", err)
	}

	// trace channel: drop any prior session, size, filter, go
	if err := s.ch.Reset(); err != nil {
		return fmt.Errorf("reset kdebug: %w", err)
	}
	if err := s.ch.SetBufferSize(s.opt.BufEntries); err != nil {
		return fmt.Errorf("set kdebug buffer: %w", err)
	}
	if err := s.ch.Reinit(); err != nil {
		return fmt.Errorf("init kdebug buffer: %w", err)
	}
	if err := s.ch.SetValueFilter(s.filterID); err != nil {
		return fmt.Errorf("set kdebug filter: %w", err)
	}
	if err := s.ch.Enable(true); err != nil {
		return fmt.Errorf("enable kdebug trace: %w", err)
	}
	return nil
}

// collect drains the trace channel until the window plus one sample period
// has elapsed, or ctx is cancelled (which keeps what was captured so far).
func (s *Session) collect(ctx context.Context) ([]kdebug.Record, error) {
	logger := logutil.GetLogger()
	buf := newBuffer(2 * s.opt.BufEntries)
	waitMS := int((2 * s.opt.SamplePeriod).Milliseconds())
	if waitMS <= 0 {
		waitMS = 1
	}
	begin := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("collection cancelled", zap.Int("records", buf.len()))
			return buf.recs, nil
		default:
		}

		// block until the kernel has records, bounded by twice the sample
		// period; fall back to sleeping when the wait itself fails
		if _, err := s.ch.Wait(waitMS); err != nil {
			time.Sleep(2 * s.opt.SamplePeriod)
		}

		if buf.headroom() < s.opt.BufEntries {
			buf.grow()
		}
		slot := buf.writeSlot(s.opt.BufEntries)
		n, err := s.ch.Read(slot)
		if err != nil {
			logger.Warn("trace read failed", zap.Error(err))
		} else {
			buf.keep(compact(slot, n, s.filterID))
		}

		if time.Since(begin) > s.opt.Duration+s.opt.SamplePeriod {
			return buf.recs, nil
		}
	}
}

// teardown is best-effort and always runs: trace channel first, then the
// sampler, then counting and the forced reservation. Failures are logged,
// never propagated, so they cannot mask the primary error.
func (s *Session) teardown() {
	err := multierr.Combine(
		s.ch.Enable(false),
		s.ch.Reset(),
		s.k.SetSampling(false),
		s.k.SetLightweightPET(false),
		s.k.SetThreadCounting(0),
		s.k.SetCounting(0),
		s.k.SetForceAllCtrs(0),
	)
	if err != nil {
		logutil.GetLogger().Warn("sampling teardown incomplete", zap.Error(err))
	}
}

// report computes two-point deltas for every thread sampled at least twice
// and a grand total across them.
func (s *Session) report(samples map[uint64]*ThreadSample) *Report {
	rep := &Report{}
	perRegTotal := make([]uint64, s.counterCount)

	tids := make([]uint64, 0, len(samples))
	for tid := range samples {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	for _, tid := range tids {
		t := samples[tid]
		if t.Start == nil || t.End == nil {
			continue
		}
		perReg := make([]uint64, s.counterCount)
		for c := 0; c < s.counterCount; c++ {
			perReg[c] = t.End[c] - t.Start[c]
			perRegTotal[c] += perReg[c]
		}
		rep.Threads = append(rep.Threads, ThreadReport{
			TID:       tid,
			ElapsedNS: s.k.TicksToNS(t.EndTime - t.StartTime),
			Deltas:    projectEvents(s.cfg, perReg),
		})
	}
	rep.Total = projectEvents(s.cfg, perRegTotal)
	return rep
}

// projectEvents maps per-register deltas to named events.
func projectEvents(cfg *counters.Config, perReg []uint64) []counters.EventDelta {
	out := make([]counters.EventDelta, len(cfg.Events))
	for i, ev := range cfg.Events {
		var v uint64
		if reg := cfg.EventMap[i]; reg < len(perReg) {
			v = perReg[reg]
		}
		out[i] = counters.EventDelta{Alias: ev.Alias, Value: v}
	}
	return out
}
