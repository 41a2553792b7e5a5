package kperf

import "fmt"

// KpepCode is an error code returned by the kperfdata framework's
// kpep_config_* and kpep_db_* entry points.
type KpepCode int32

const (
	KPEP_CONFIG_ERROR_NONE KpepCode = iota
	KPEP_CONFIG_ERROR_INVALID_ARGUMENT
	KPEP_CONFIG_ERROR_OUT_OF_MEMORY
	KPEP_CONFIG_ERROR_IO
	KPEP_CONFIG_ERROR_BUFFER_TOO_SMALL
	KPEP_CONFIG_ERROR_CUR_SYSTEM_UNKNOWN
	KPEP_CONFIG_ERROR_DB_PATH_INVALID
	KPEP_CONFIG_ERROR_DB_NOT_FOUND
	KPEP_CONFIG_ERROR_DB_ARCH_UNSUPPORTED
	KPEP_CONFIG_ERROR_DB_VERSION_UNSUPPORTED
	KPEP_CONFIG_ERROR_DB_CORRUPT
	KPEP_CONFIG_ERROR_EVENT_NOT_FOUND
	KPEP_CONFIG_ERROR_CONFLICTING_EVENTS
	KPEP_CONFIG_ERROR_COUNTERS_NOT_FORCED
	KPEP_CONFIG_ERROR_EVENT_UNAVAILABLE
	KPEP_CONFIG_ERROR_ERRNO
)

var kpepCodeNames = [...]string{
	"none",
	"invalid argument",
	"out of memory",
	"I/O",
	"buffer too small",
	"current system unknown",
	"database path invalid",
	"database not found",
	"database architecture unsupported",
	"database version unsupported",
	"database corrupt",
	"event not found",
	"conflicting events",
	"all counters must be forced",
	"event unavailable",
	"check errno",
}

func (c KpepCode) String() string {
	if c >= 0 && int(c) < len(kpepCodeNames) {
		return kpepCodeNames[c]
	}
	return "unknown error"
}

func (c KpepCode) Error() string {
	return fmt.Sprintf("kperfdata: %s (%d)", c.String(), int32(c))
}

// kpepErr converts a raw kperfdata return value to an error, nil on 0.
func kpepErr(ret int32) error {
	if ret == 0 {
		return nil
	}
	return KpepCode(ret)
}

// kpcErr wraps a nonzero return from a kperf framework call. The framework
// reports plain ints, there is no errno to recover.
func kpcErr(call string, ret int32) error {
	if ret == 0 {
		return nil
	}
	return fmt.Errorf("%s failed (%d)", call, ret)
}

// LoadError reports a failure to bind the private frameworks. Lib names which
// library could not be loaded or which symbol was missing from it.
type LoadError struct {
	Lib    string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("failed to load %s function: %s", e.Lib, e.Symbol)
	}
	return fmt.Sprintf("failed to load %s: %v", e.Lib, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
