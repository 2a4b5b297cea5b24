//go:build !linux

package sandbox

import "github.com/marcua/ayb/common/logging"

func detectCgroupsV2() bool {
	return false
}

// applyProcessLimit is a no-op outside Linux: RLIMIT_NPROC applies
// per-user rather than per-process on most non-Linux Unixes and is not
// part of spec.md §4.2's mandatory layer.
func applyProcessLimit(logger logging.Logger, maxProcesses uint64) {
	logger.Warn("process-count limit not applied on this platform")
}
