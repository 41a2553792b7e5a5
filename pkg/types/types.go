package types

// Cross-platform kpc counter class constants and mask bits.
const (
	KPC_CLASS_FIXED        = 0
	KPC_CLASS_CONFIGURABLE = 1
	KPC_CLASS_POWER        = 2
	KPC_CLASS_RAWPMU       = 3

	KPC_CLASS_FIXED_MASK        = 1 << KPC_CLASS_FIXED
	KPC_CLASS_CONFIGURABLE_MASK = 1 << KPC_CLASS_CONFIGURABLE
	KPC_CLASS_POWER_MASK        = 1 << KPC_CLASS_POWER
	KPC_CLASS_RAWPMU_MASK       = 1 << KPC_CLASS_RAWPMU
)

// PMU version constants reported by kpc_pmu_version.
const (
	KPC_PMU_ERROR     = 0
	KPC_PMU_INTEL_V3  = 1
	KPC_PMU_ARM_APPLE = 2
	KPC_PMU_INTEL_V2  = 3
	KPC_PMU_ARM_V2    = 4
)

// The most counters any class combination can report in one read.
const KPC_MAX_COUNTERS = 32

// Sampler bits for a kperf action.
const (
	KPERF_SAMPLER_TH_INFO    = 1 << 0
	KPERF_SAMPLER_KSTACK     = 1 << 2
	KPERF_SAMPLER_USTACK     = 1 << 3
	KPERF_SAMPLER_PMC_THREAD = 1 << 4
	KPERF_SAMPLER_PMC_CPU    = 1 << 5
	KPERF_SAMPLER_PMC_CONFIG = 1 << 6
	KPERF_SAMPLER_MEMINFO    = 1 << 7
)

// Hard caps on the kernel's action and timer id pools.
const (
	KPERF_ACTION_MAX = 32
	KPERF_TIMER_MAX  = 8
)
