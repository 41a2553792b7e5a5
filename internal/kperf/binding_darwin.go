//go:build darwin

package kperf

import "github.com/ebitengine/purego"

const (
	libKperf     = "/System/Library/PrivateFrameworks/kperf.framework/kperf"
	libKperfdata = "/System/Library/PrivateFrameworks/kperfdata.framework/kperfdata"
	libSystem    = "/usr/lib/libSystem.B.dylib"
)

type symbol struct {
	name string
	fn   any // pointer to the Binding func field
}

func (b *Binding) load() error {
	var err error
	if b.handleKperf, err = purego.Dlopen(libKperf, purego.RTLD_LAZY); err != nil {
		return &LoadError{Lib: "kperf.framework", Err: err}
	}
	if b.handleKperfdata, err = purego.Dlopen(libKperfdata, purego.RTLD_LAZY); err != nil {
		return &LoadError{Lib: "kperfdata.framework", Err: err}
	}
	if b.handleSystem, err = purego.Dlopen(libSystem, purego.RTLD_LAZY); err != nil {
		return &LoadError{Lib: "libSystem", Err: err}
	}

	kperfSymbols := []symbol{
		{"kpc_pmu_version", &b.kpcPMUVersion},
		{"kpc_cpu_string", &b.kpcCPUString},
		{"kpc_get_counting", &b.kpcGetCounting},
		{"kpc_set_counting", &b.kpcSetCounting},
		{"kpc_get_thread_counting", &b.kpcGetThreadCounting},
		{"kpc_set_thread_counting", &b.kpcSetThreadCounting},
		{"kpc_get_config_count", &b.kpcGetConfigCount},
		{"kpc_get_counter_count", &b.kpcGetCounterCount},
		{"kpc_set_config", &b.kpcSetConfig},
		{"kpc_get_thread_counters", &b.kpcGetThreadCounters},
		{"kpc_force_all_ctrs_set", &b.kpcForceAllCtrsSet},
		{"kpc_force_all_ctrs_get", &b.kpcForceAllCtrsGet},
		{"kperf_action_count_set", &b.kperfActionCountSet},
		{"kperf_action_samplers_set", &b.kperfActionSamplersSet},
		{"kperf_action_filter_set_by_pid", &b.kperfActionFilterSetByPid},
		{"kperf_timer_count_set", &b.kperfTimerCountSet},
		{"kperf_timer_period_set", &b.kperfTimerPeriodSet},
		{"kperf_timer_action_set", &b.kperfTimerActionSet},
		{"kperf_timer_pet_set", &b.kperfTimerPetSet},
		{"kperf_sample_set", &b.kperfSampleSet},
		{"kperf_reset", &b.kperfReset},
		{"kperf_ns_to_ticks", &b.kperfNsToTicks},
		{"kperf_ticks_to_ns", &b.kperfTicksToNs},
		{"kperf_tick_frequency", &b.kperfTickFrequency},
	}
	kperfdataSymbols := []symbol{
		{"kpep_db_create", &b.kpepDBCreate},
		{"kpep_db_free", &b.kpepDBFree},
		{"kpep_db_name", &b.kpepDBName},
		{"kpep_db_events_count", &b.kpepDBEventsCount},
		{"kpep_db_counters_count", &b.kpepDBCountersCount},
		{"kpep_db_event", &b.kpepDBEvent},
		{"kpep_event_name", &b.kpepEventName},
		{"kpep_event_description", &b.kpepEventDescription},
		{"kpep_config_create", &b.kpepConfigCreate},
		{"kpep_config_free", &b.kpepConfigFree},
		{"kpep_config_add_event", &b.kpepConfigAddEvent},
		{"kpep_config_force_counters", &b.kpepConfigForceCtrs},
		{"kpep_config_kpc", &b.kpepConfigKpc},
		{"kpep_config_kpc_count", &b.kpepConfigKpcCount},
		{"kpep_config_kpc_classes", &b.kpepConfigKpcClasses},
		{"kpep_config_kpc_map", &b.kpepConfigKpcMap},
	}
	systemSymbols := []symbol{
		{"sysctl", &b.sysctl},
		{"sysctlbyname", &b.sysctlbyname},
	}

	if err := register(b.handleKperf, "kperf", kperfSymbols); err != nil {
		return err
	}
	if err := register(b.handleKperfdata, "kperfdata", kperfdataSymbols); err != nil {
		return err
	}
	return register(b.handleSystem, "libSystem", systemSymbols)
}

func register(handle uintptr, lib string, symbols []symbol) error {
	for _, s := range symbols {
		addr, err := purego.Dlsym(handle, s.name)
		if err != nil || addr == 0 {
			return &LoadError{Lib: lib, Symbol: s.name, Err: err}
		}
		purego.RegisterFunc(s.fn, addr)
	}
	return nil
}

// unload drops the library handles and clears every resolved entry point so
// a later Bind starts from a clean slate.
func (b *Binding) unload() {
	if b.handleKperf != 0 {
		purego.Dlclose(b.handleKperf)
	}
	if b.handleKperfdata != 0 {
		purego.Dlclose(b.handleKperfdata)
	}
	if b.handleSystem != 0 {
		purego.Dlclose(b.handleSystem)
	}
	*b = Binding{}
}
