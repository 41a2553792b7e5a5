package config

import (
	"os"
	"strconv"
	"time"
)

// Mode selects which demo the harness runs.
const (
	ModeSelf  = "self"  // count a workload on the current thread
	ModeTrace = "trace" // sample a process (or all threads) via kdebug
)

type Config struct {
	Mode         string
	TargetPID    int           // -1 samples every thread
	Duration     time.Duration // wall-clock window for trace mode
	SamplePeriod time.Duration // PET timer period
}

func LoadConfig() *Config {
	return &Config{
		Mode:         getEnv("XNUPERF_MODE", ModeSelf),
		TargetPID:    getEnvInt("XNUPERF_TARGET_PID", -1),
		Duration:     getEnvDuration("XNUPERF_DURATION", 100*time.Millisecond),
		SamplePeriod: getEnvDuration("XNUPERF_SAMPLE_PERIOD", time.Millisecond),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
