// Package sandbox detects and applies the layered process isolation
// described in spec.md §4.2: resource limits, a filesystem allow-list, a
// syscall deny-list, and the engine-level ATTACH/defensive mode. Only the
// last layer is mandatory; every other layer is best-effort and degrades
// gracefully, logging rather than failing when unavailable.
package sandbox

import (
	"runtime"

	"github.com/marcua/ayb/common/logging"
	"golang.org/x/sys/unix"
)

// Platform identifies the host OS for startup reporting.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// Capabilities reports which isolation layers are available on this host.
type Capabilities struct {
	Platform           Platform
	FilesystemAllowlistABI int // 0 if unavailable
	CgroupsV2          bool
	ResourceLimits     bool // always true on Unix
	SyscallFilter      bool // Linux only, and only when a filter backend is wired
}

// Detect inspects the running host and returns its sandbox capabilities.
// Landlock and seccomp-bpf availability can't be probed without actually
// applying a restriction (both are one-way ratchets on the calling
// process), so on Linux this optimistically reports the latest ABI/filter
// support is present; ApplyFilesystemAllowlist and ApplySyscallFilter each
// negotiate down (Landlock's BestEffort) or log and skip (seccomp) at the
// point they're actually applied in the daemon child, never in Detect.
func Detect() Capabilities {
	caps := Capabilities{
		Platform:       currentPlatform(),
		ResourceLimits: runtime.GOOS != "windows",
	}

	if caps.Platform == PlatformLinux {
		caps.CgroupsV2 = detectCgroupsV2()
		caps.FilesystemAllowlistABI = 5
		caps.SyscallFilter = true
	}

	return caps
}

func currentPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	case "windows":
		return PlatformWindows
	default:
		return PlatformUnknown
	}
}

// HasFullIsolation reports whether every optional layer is available, per
// spec.md §4.2's "not recommended for multi-tenant production" framing.
func (c Capabilities) HasFullIsolation() bool {
	return c.Platform == PlatformLinux && c.FilesystemAllowlistABI > 0 && c.SyscallFilter
}

// ReportStartup logs the capability set the way spec.md §4.2 prescribes:
// warnings for missing optional layers, never a fatal error for them.
func ReportStartup(logger logging.Logger, caps Capabilities) {
	switch caps.Platform {
	case PlatformLinux:
		if caps.FilesystemAllowlistABI == 0 {
			logger.Warn("filesystem allow-list unavailable (kernel < 5.13 or no allow-list backend); database filesystem isolation is limited")
		}

		if !caps.CgroupsV2 {
			logger.Warn("cgroup v2 unavailable or not writable; CPU limits will not be enforced")
		}

		if !caps.SyscallFilter {
			logger.Warn("syscall filter unavailable; syscall filtering is disabled")
		}

		if caps.HasFullIsolation() {
			logger.Info("multi-tenant isolation enabled", "filesystem_allowlist_abi", caps.FilesystemAllowlistABI, "cgroups_v2", caps.CgroupsV2)
		}
	case PlatformDarwin, PlatformWindows:
		logger.Warn("running with limited sandboxing: only resource limits and engine-level defense are available; not recommended for multi-tenant production", "platform", string(caps.Platform))
	default:
		logger.Warn("unknown platform; sandboxing unavailable")
	}
}

// ResourceLimits are the Unix rlimit values applied to a daemon child
// before it accepts any query. Values match spec.md §4.2's defaults.
type ResourceLimits struct {
	AddressSpaceBytes uint64
	MaxFileSizeBytes  uint64
	MaxOpenFiles      uint64
	MaxProcesses      uint64
}

// DefaultResourceLimits returns the spec's documented defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		AddressSpaceBytes: 64 * 1024 * 1024,
		MaxFileSizeBytes:  75 * 1024 * 1024,
		MaxOpenFiles:      10,
		MaxProcesses:      2,
	}
}

// ApplyResourceLimits sets Unix rlimits in the current process. It is
// meant to run inside the daemon child immediately after fork/exec, before
// any query is accepted. Each limit is applied independently so a failure
// on one (e.g. NPROC being privileged on some systems) does not prevent
// the others from taking effect.
func ApplyResourceLimits(logger logging.Logger, limits ResourceLimits) {
	setRlimit(logger, "address space", unix.RLIMIT_AS, limits.AddressSpaceBytes)
	setRlimit(logger, "file size", unix.RLIMIT_FSIZE, limits.MaxFileSizeBytes)
	setRlimit(logger, "open files", unix.RLIMIT_NOFILE, limits.MaxOpenFiles)
	applyProcessLimit(logger, limits.MaxProcesses)
}

func setRlimit(logger logging.Logger, name string, resource int, value uint64) {
	rlimit := unix.Rlimit{Cur: value, Max: value}
	if err := unix.Setrlimit(resource, &rlimit); err != nil {
		logger.Warn("failed to apply resource limit", "limit", name, "error", err)
	}
}

// ApplyFilesystemAllowlist restricts the process to read-only access to
// system library directories and read-write access to dbDir and /tmp,
// matching spec.md §4.2 step 2. Implemented for real via Landlock on Linux
// (isolation_linux.go); a no-op elsewhere (isolation_other.go), per the
// "best-effort, report don't fail" rule for optional layers.
func ApplyFilesystemAllowlist(logger logging.Logger, dbDir string) {
	applyFilesystemAllowlist(logger, dbDir)
}

// ApplySyscallFilter denies the syscall set listed in spec.md §4.2 step 3.
// Implemented for real via seccomp-bpf on Linux (isolation_linux.go); a
// no-op elsewhere (isolation_other.go).
func ApplySyscallFilter(logger logging.Logger) {
	applySyscallFilter(logger)
}
