//go:build linux

package sandbox

import (
	"github.com/marcua/ayb/common/logging"
	"golang.org/x/sys/unix"
)

func detectCgroupsV2() bool {
	return unix.Access("/sys/fs/cgroup/cgroup.controllers", unix.R_OK) == nil
}

func applyProcessLimit(logger logging.Logger, maxProcesses uint64) {
	setRlimit(logger, "processes", unix.RLIMIT_NPROC, maxProcesses)
}
