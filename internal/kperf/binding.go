// Package kperf binds the private kperf and kperfdata frameworks at runtime
// and exposes their entry points as typed Go methods. Both frameworks wrap
// sysctl calls into the in-kernel kpc and kperf subsystems; most of them
// require root privileges.
package kperf

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/infraprobe/xnuperf/pkg/types"
)

// Opaque kperfdata handles. All of them are owned by the framework; DB and
// Config must be released with DBFree / ConfigFree.
type (
	DB     uintptr
	Config uintptr
	Event  uintptr
)

// Binding holds the resolved entry points of both frameworks. The zero value
// is unusable; obtain one from Bind.
type Binding struct {
	handleKperf     uintptr
	handleKperfdata uintptr
	handleSystem    uintptr

	// kperf.framework
	kpcPMUVersion        func() uint32
	kpcCPUString         func(buf unsafe.Pointer, size uintptr) int32
	kpcGetCounting       func() uint32
	kpcSetCounting       func(classes uint32) int32
	kpcGetThreadCounting func() uint32
	kpcSetThreadCounting func(classes uint32) int32
	kpcGetConfigCount    func(classes uint32) uint32
	kpcGetCounterCount   func(classes uint32) uint32
	kpcSetConfig         func(classes uint32, buf unsafe.Pointer) int32
	kpcGetThreadCounters func(tid, count uint32, buf unsafe.Pointer) int32
	kpcForceAllCtrsSet   func(val int32) int32
	kpcForceAllCtrsGet   func(out unsafe.Pointer) int32

	kperfActionCountSet       func(count uint32) int32
	kperfActionSamplersSet    func(actionID, samplers uint32) int32
	kperfActionFilterSetByPid func(actionID uint32, pid int32) int32
	kperfTimerCountSet        func(count uint32) int32
	kperfTimerPeriodSet       func(timerID uint32, ticks uint64) int32
	kperfTimerActionSet       func(timerID, actionID uint32) int32
	kperfTimerPetSet          func(timerID uint32) int32
	kperfSampleSet            func(enabled uint32) int32
	kperfReset                func() int32
	kperfNsToTicks            func(ns uint64) uint64
	kperfTicksToNs            func(ticks uint64) uint64
	kperfTickFrequency        func() uint64

	// kperfdata.framework
	kpepDBCreate          func(name uintptr, out unsafe.Pointer) int32
	kpepDBFree            func(db uintptr)
	kpepDBName            func(db uintptr, out unsafe.Pointer) int32
	kpepDBEventsCount     func(db uintptr, out unsafe.Pointer) int32
	kpepDBCountersCount   func(db uintptr, classes uint8, out unsafe.Pointer) int32
	kpepDBEvent           func(db uintptr, name string, out unsafe.Pointer) int32
	kpepEventName         func(ev uintptr, out unsafe.Pointer) int32
	kpepEventDescription  func(ev uintptr, out unsafe.Pointer) int32
	kpepConfigCreate      func(db uintptr, out unsafe.Pointer) int32
	kpepConfigFree        func(cfg uintptr)
	kpepConfigAddEvent    func(cfg uintptr, evPtr unsafe.Pointer, flag uint32, errOut unsafe.Pointer) int32
	kpepConfigForceCtrs   func(cfg uintptr) int32
	kpepConfigKpc         func(cfg uintptr, buf unsafe.Pointer, size uintptr) int32
	kpepConfigKpcCount    func(cfg uintptr, out unsafe.Pointer) int32
	kpepConfigKpcClasses  func(cfg uintptr, out unsafe.Pointer) int32
	kpepConfigKpcMap      func(cfg uintptr, buf unsafe.Pointer, size uintptr) int32

	// libSystem
	sysctl       func(mib unsafe.Pointer, nmib uint32, old unsafe.Pointer, oldlen unsafe.Pointer, newp unsafe.Pointer, newlen uintptr) int32
	sysctlbyname func(name string, old unsafe.Pointer, oldlen unsafe.Pointer, newp unsafe.Pointer, newlen uintptr) int32
}

var (
	bindMu sync.Mutex
	bound  *Binding
)

// Bind loads both frameworks and resolves every required entry point. A
// successful bind is cached for the life of the process; a failed one is
// fully torn down so a later call can retry from scratch.
func Bind() (*Binding, error) {
	bindMu.Lock()
	defer bindMu.Unlock()
	if bound != nil {
		return bound, nil
	}
	b := &Binding{}
	if err := b.load(); err != nil {
		b.unload()
		return nil, err
	}
	bound = b
	return b, nil
}

// ---- kpc: counting control ----------------------------------------------

func (b *Binding) PMUVersion() uint32 { return b.kpcPMUVersion() }

// CPUString returns the CPU identification string used to name the PMC
// database, such as "cpu_7_8_10b282dc_46". Does not require root.
func (b *Binding) CPUString() (string, error) {
	var buf [128]byte
	if n := b.kpcCPUString(unsafe.Pointer(&buf[0]), uintptr(len(buf))); n < 0 {
		return "", kpcErr("kpc_cpu_string", n)
	}
	return unix.ByteSliceToString(buf[:]), nil
}

func (b *Binding) Counting() uint32 { return b.kpcGetCounting() }

// SetCounting enables counting for the given class mask, 0 to shut down.
func (b *Binding) SetCounting(classes uint32) error {
	return kpcErr("kpc_set_counting", b.kpcSetCounting(classes))
}

func (b *Binding) ThreadCounting() uint32 { return b.kpcGetThreadCounting() }

func (b *Binding) SetThreadCounting(classes uint32) error {
	return kpcErr("kpc_set_thread_counting", b.kpcSetThreadCounting(classes))
}

func (b *Binding) ConfigCount(classes uint32) uint32 {
	return b.kpcGetConfigCount(classes)
}

func (b *Binding) CounterCount(classes uint32) uint32 {
	return b.kpcGetCounterCount(classes)
}

// SetConfig writes the configurable counter registers.
func (b *Binding) SetConfig(classes uint32, regs []uint64) error {
	if len(regs) == 0 {
		return nil
	}
	return kpcErr("kpc_set_config", b.kpcSetConfig(classes, unsafe.Pointer(&regs[0])))
}

// ThreadCounters reads the accumulated counters of the current thread into
// buf. len(buf) must be at least CounterCount for the active classes.
func (b *Binding) ThreadCounters(buf []uint64) error {
	return kpcErr("kpc_get_thread_counters",
		b.kpcGetThreadCounters(0, uint32(len(buf)), unsafe.Pointer(&buf[0])))
}

// SetForceAllCtrs acquires (1) or releases (0) the counters otherwise owned
// by the power manager.
func (b *Binding) SetForceAllCtrs(val int) error {
	return kpcErr("kpc_force_all_ctrs_set", b.kpcForceAllCtrsSet(int32(val)))
}

// ForceAllCtrs reads the force state. Failing here means the caller lacks
// root privileges.
func (b *Binding) ForceAllCtrs() (int, error) {
	var out int32
	if ret := b.kpcForceAllCtrsGet(unsafe.Pointer(&out)); ret != 0 {
		return 0, kpcErr("kpc_force_all_ctrs_get", ret)
	}
	return int(out), nil
}

// ---- kperf: actions, timers, sampling -----------------------------------

func (b *Binding) ActionCountSet(n uint32) error {
	return kpcErr("kperf_action_count_set", b.kperfActionCountSet(n))
}

func (b *Binding) ActionSamplersSet(actionID, samplers uint32) error {
	return kpcErr("kperf_action_samplers_set", b.kperfActionSamplersSet(actionID, samplers))
}

// ActionFilterByPID restricts an action to one process, -1 to disable.
func (b *Binding) ActionFilterByPID(actionID uint32, pid int) error {
	return kpcErr("kperf_action_filter_set_by_pid", b.kperfActionFilterSetByPid(actionID, int32(pid)))
}

func (b *Binding) TimerCountSet(n uint32) error {
	return kpcErr("kperf_timer_count_set", b.kperfTimerCountSet(n))
}

func (b *Binding) TimerPeriodSet(timerID uint32, ticks uint64) error {
	return kpcErr("kperf_timer_period_set", b.kperfTimerPeriodSet(timerID, ticks))
}

func (b *Binding) TimerActionSet(timerID, actionID uint32) error {
	return kpcErr("kperf_timer_action_set", b.kperfTimerActionSet(timerID, actionID))
}

// TimerPETSet marks a timer as the "profile every thread" driver.
func (b *Binding) TimerPETSet(timerID uint32) error {
	return kpcErr("kperf_timer_pet_set", b.kperfTimerPetSet(timerID))
}

func (b *Binding) SetSampling(on bool) error {
	var v uint32
	if on {
		v = 1
	}
	return kpcErr("kperf_sample_set", b.kperfSampleSet(v))
}

// Reset stops sampling, kdebug, timers and actions in one go.
func (b *Binding) Reset() error {
	return kpcErr("kperf_reset", b.kperfReset())
}

func (b *Binding) NSToTicks(ns uint64) uint64 { return b.kperfNsToTicks(ns) }
func (b *Binding) TicksToNS(t uint64) uint64  { return b.kperfTicksToNs(t) }
func (b *Binding) TickFrequency() uint64      { return b.kperfTickFrequency() }

// SetLightweightPET toggles the low-overhead PET mode. Not exported by the
// framework, so it goes through sysctlbyname.
func (b *Binding) SetLightweightPET(on bool) error {
	var v uint32
	if on {
		v = 1
	}
	if ret := b.sysctlbyname("kperf.lightweight_pet", nil, nil, unsafe.Pointer(&v), 4); ret != 0 {
		return kpcErr("sysctl kperf.lightweight_pet", ret)
	}
	return nil
}

// LightweightPET reports whether the low-overhead PET mode is on.
func (b *Binding) LightweightPET() (bool, error) {
	var v uint32
	size := uintptr(4)
	if ret := b.sysctlbyname("kperf.lightweight_pet", unsafe.Pointer(&v), unsafe.Pointer(&size), nil, 0); ret != 0 {
		return false, kpcErr("sysctl kperf.lightweight_pet", ret)
	}
	return v != 0, nil
}

// ---- kpep: event database ------------------------------------------------

// DBOpen loads a PMC database from /usr/share/kpep. An empty name selects
// the database matching the current CPU.
func (b *Binding) DBOpen(name string) (DB, error) {
	var db uintptr
	var cname uintptr
	var namebuf []byte
	if name != "" {
		namebuf = append([]byte(name), 0)
		cname = uintptr(unsafe.Pointer(&namebuf[0]))
	}
	ret := b.kpepDBCreate(cname, unsafe.Pointer(&db))
	runtime.KeepAlive(namebuf)
	if ret != 0 {
		return 0, kpepErr(ret)
	}
	return DB(db), nil
}

func (b *Binding) DBFree(db DB) {
	if db != 0 {
		b.kpepDBFree(uintptr(db))
	}
}

func (b *Binding) DBName(db DB) (string, error) {
	var p uintptr
	if err := kpepErr(b.kpepDBName(uintptr(db), unsafe.Pointer(&p))); err != nil {
		return "", err
	}
	return goString(p), nil
}

func (b *Binding) DBEventsCount(db DB) (int, error) {
	var n uintptr
	if err := kpepErr(b.kpepDBEventsCount(uintptr(db), unsafe.Pointer(&n))); err != nil {
		return 0, err
	}
	return int(n), nil
}

// DBCountersCount reports the hardware counters available for a class mask.
func (b *Binding) DBCountersCount(db DB, classes uint8) (int, error) {
	var n uintptr
	if err := kpepErr(b.kpepDBCountersCount(uintptr(db), classes, unsafe.Pointer(&n))); err != nil {
		return 0, err
	}
	return int(n), nil
}

// DBEvent looks one event up by its database name, e.g. "FIXED_CYCLES".
func (b *Binding) DBEvent(db DB, name string) (Event, error) {
	var ev uintptr
	if err := kpepErr(b.kpepDBEvent(uintptr(db), name, unsafe.Pointer(&ev))); err != nil {
		return 0, err
	}
	return Event(ev), nil
}

func (b *Binding) EventName(ev Event) (string, error) {
	var p uintptr
	if err := kpepErr(b.kpepEventName(uintptr(ev), unsafe.Pointer(&p))); err != nil {
		return "", err
	}
	return goString(p), nil
}

func (b *Binding) EventDescription(ev Event) (string, error) {
	var p uintptr
	if err := kpepErr(b.kpepEventDescription(uintptr(ev), unsafe.Pointer(&p))); err != nil {
		return "", err
	}
	return goString(p), nil
}

// ---- kpep: counter configuration ----------------------------------------

func (b *Binding) ConfigCreate(db DB) (Config, error) {
	var cfg uintptr
	if err := kpepErr(b.kpepConfigCreate(uintptr(db), unsafe.Pointer(&cfg))); err != nil {
		return 0, err
	}
	return Config(cfg), nil
}

func (b *Binding) ConfigFree(cfg Config) {
	if cfg != 0 {
		b.kpepConfigFree(uintptr(cfg))
	}
}

// ConfigForceCounters reserves every hardware counter for this config. Must
// happen before register values can be computed.
func (b *Binding) ConfigForceCounters(cfg Config) error {
	return kpepErr(b.kpepConfigForceCtrs(uintptr(cfg)))
}

// ConfigAddEvent appends an event. On a conflicting-events failure the
// returned bitmap holds the indices of the already-added events that clash.
func (b *Binding) ConfigAddEvent(cfg Config, ev Event, flag uint32) (uint32, error) {
	evp := uintptr(ev)
	var bitmap uint32
	ret := b.kpepConfigAddEvent(uintptr(cfg), unsafe.Pointer(&evp), flag, unsafe.Pointer(&bitmap))
	if ret != 0 {
		return bitmap, kpepErr(ret)
	}
	return 0, nil
}

func (b *Binding) ConfigClasses(cfg Config) (uint32, error) {
	var classes uint32
	if err := kpepErr(b.kpepConfigKpcClasses(uintptr(cfg), unsafe.Pointer(&classes))); err != nil {
		return 0, err
	}
	return classes, nil
}

func (b *Binding) ConfigKPCCount(cfg Config) (int, error) {
	var n uintptr
	if err := kpepErr(b.kpepConfigKpcCount(uintptr(cfg), unsafe.Pointer(&n))); err != nil {
		return 0, err
	}
	return int(n), nil
}

// ConfigKPC returns the raw register values, one per register.
func (b *Binding) ConfigKPC(cfg Config, count int) ([]uint64, error) {
	regs := make([]uint64, types.KPC_MAX_COUNTERS)
	err := kpepErr(b.kpepConfigKpc(uintptr(cfg), unsafe.Pointer(&regs[0]),
		uintptr(len(regs))*8))
	if err != nil {
		return nil, err
	}
	return regs[:count], nil
}

// ConfigKPCMap returns the event index to register index mapping.
func (b *Binding) ConfigKPCMap(cfg Config, events int) ([]int, error) {
	idx := make([]uintptr, types.KPC_MAX_COUNTERS)
	err := kpepErr(b.kpepConfigKpcMap(uintptr(cfg), unsafe.Pointer(&idx[0]),
		uintptr(len(idx))*unsafe.Sizeof(uintptr(0))))
	if err != nil {
		return nil, err
	}
	out := make([]int, events)
	for i := range out {
		out[i] = int(idx[i])
	}
	return out, nil
}

// ---- libSystem -----------------------------------------------------------

// Sysctl issues a raw mib-addressed sysctl. oldlen follows the C in/out
// convention; any of old, oldlen and newp may be nil.
func (b *Binding) Sysctl(mib []int32, old unsafe.Pointer, oldlen *uintptr, newp unsafe.Pointer, newlen uintptr) error {
	ret := b.sysctl(unsafe.Pointer(&mib[0]), uint32(len(mib)), old,
		unsafe.Pointer(oldlen), newp, newlen)
	if ret != 0 {
		return kpcErr("sysctl", ret)
	}
	return nil
}

// goString copies a NUL-terminated C string owned by the framework.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	var out []byte
	for i := uintptr(0); ; i++ {
		c := *(*byte)(unsafe.Pointer(p + i))
		if c == 0 {
			break
		}
		out = append(out, c)
	}
	return string(out)
}
