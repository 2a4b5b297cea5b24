//go:build !linux

package sandbox

import "github.com/marcua/ayb/common/logging"

// applyFilesystemAllowlist is a no-op outside Linux: Landlock is a Linux
// LSM with no equivalent wired in this build.
func applyFilesystemAllowlist(logger logging.Logger, dbDir string) {
	logger.Warn("filesystem allow-list not applied: landlock is linux-only", "db_dir", dbDir)
}

// applySyscallFilter is a no-op outside Linux: seccomp-bpf is a Linux-only
// mechanism.
func applySyscallFilter(logger logging.Logger) {
	logger.Warn("syscall filter not applied: seccomp-bpf is linux-only")
}
