//go:build linux

package sandbox

import (
	"github.com/elastic/go-seccomp-bpf"
	"github.com/landlock-lsm/go-landlock/landlock"

	"github.com/marcua/ayb/common/logging"
)

// deniedSyscalls mirrors original_source/src/hosted_db/isolation.rs's
// seccomp deny-list: namespace/process manipulation, networking (sqlite
// needs none), kernel module loading, the kernel keyring, BPF, and
// performance-monitoring syscalls that could be used for container escape
// or privilege escalation but that sqlite never calls.
var deniedSyscalls = []string{
	"ptrace", "mount", "umount2", "chroot", "pivot_root", "unshare", "setns",
	"socket", "connect", "bind", "listen", "accept", "accept4",
	"sendto", "recvfrom", "sendmsg", "recvmsg",
	"init_module", "finit_module", "delete_module",
	"add_key", "request_key", "keyctl",
	"bpf", "perf_event_open",
}

// applyFilesystemAllowlist restricts the process, via Landlock, to
// read-only access to the system library directories sqlite's dynamic
// linker needs and read-write access to dbDir (for -wal/-shm/-journal
// files) and /tmp. BestEffort negotiates down to whatever ABI version the
// running kernel supports, including a full no-op pre-5.13, rather than
// failing.
func applyFilesystemAllowlist(logger logging.Logger, dbDir string) {
	err := landlock.V5.BestEffort().RestrictPaths(
		landlock.RODirs("/lib", "/lib64", "/usr", "/etc").IgnoreIfMissing(),
		landlock.RWDirs(dbDir, "/tmp").IgnoreIfMissing(),
	)
	if err != nil {
		logger.Warn("failed to apply landlock filesystem allow-list", "db_dir", dbDir, "error", err)
		return
	}

	logger.Info("landlock filesystem allow-list applied", "db_dir", dbDir)
}

// applySyscallFilter installs a seccomp-bpf filter denying deniedSyscalls
// with EPERM and allowing everything else, matching spec.md §4.2 step 3.
func applySyscallFilter(logger logging.Logger) {
	if err := seccomp.Available(); err != nil {
		logger.Warn("syscall filter unavailable on this kernel", "error", err)
		return
	}

	policy := seccomp.Policy{
		DefaultAction: seccomp.ActionAllow,
		Syscalls: []seccomp.SyscallGroup{
			{
				Action: seccomp.ActionErrno,
				Names:  deniedSyscalls,
			},
		},
	}

	filter, err := policy.Assemble()
	if err != nil {
		logger.Warn("failed to assemble syscall filter", "error", err)
		return
	}

	if err := seccomp.LoadFilter(filter); err != nil {
		logger.Warn("failed to apply syscall filter", "error", err)
		return
	}

	logger.Info("seccomp syscall filter applied", "denied_syscalls", len(deniedSyscalls))
}
