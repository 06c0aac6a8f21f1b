// Package system inspects the host for open mappings and active mounts.
package system

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"luks-keeper/internal/keeper"
)

// PartitionLister returns the host mount table.
type PartitionLister func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// statusInactive is the exit code of `cryptsetup status` for a mapping
// that does not exist.
const statusInactive = 4

// HostProbe implements keeper.Probe. Mappings are checked with
// `cryptsetup status`, run elevated because device-mapper refuses
// unprivileged queries. Mounts are read from the mount table through
// gopsutil.
type HostProbe struct {
	executor   keeper.Executor
	partitions PartitionLister
}

// NewHostProbe creates a probe that runs cryptsetup through executor.
func NewHostProbe(executor keeper.Executor) *HostProbe {
	return &HostProbe{executor: executor, partitions: disk.PartitionsWithContext}
}

// NewHostProbeWithPartitions allows injecting the mount table (used in tests).
func NewHostProbeWithPartitions(executor keeper.Executor, partitions PartitionLister) *HostProbe {
	return &HostProbe{executor: executor, partitions: partitions}
}

// IsOpen reports whether the mapping /dev/mapper/<name> is active. Only
// the inactive exit code means closed; any other failure is an error, so a
// refused query is never mistaken for a closed device.
func (p *HostProbe) IsOpen(ctx context.Context, name string) (bool, error) {
	res, err := p.executor.Run(ctx, keeper.Command{
		Name:     "cryptsetup",
		Args:     []string{"status", name},
		Elevated: true,
	})
	if err != nil {
		return false, fmt.Errorf("running cryptsetup status: %w", err)
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case statusInactive:
		return false, nil
	default:
		return false, fmt.Errorf("cryptsetup status %s exited %d: %s",
			name, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
}

// IsMounted reports whether any filesystem is mounted at mountPoint.
func (p *HostProbe) IsMounted(ctx context.Context, mountPoint string) (bool, error) {
	// all=true includes pseudo and bind mounts, which a mount point may be.
	parts, err := p.partitions(ctx, true)
	if err != nil {
		return false, fmt.Errorf("reading mount table: %w", err)
	}
	want := filepath.Clean(mountPoint)
	for _, part := range parts {
		if filepath.Clean(part.Mountpoint) == want {
			return true, nil
		}
	}
	return false, nil
}

var _ keeper.Probe = (*HostProbe)(nil)
