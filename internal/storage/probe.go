package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// DiskProbe reads free space from the filesystems holding the data directory
// and an optional external mount point.
type DiskProbe struct {
	InternalPath string
	ExternalPath string
}

var _ Probe = DiskProbe{}

// AvailableInternalBytes returns free bytes on the internal data filesystem.
func (p DiskProbe) AvailableInternalBytes(ctx context.Context) (int64, error) {
	usage, err := disk.UsageWithContext(ctx, p.InternalPath)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", p.InternalPath, err)
	}
	return int64(usage.Free), nil
}

// ExternalStorageMounted reports whether ExternalPath is a mount point that
// accepts writes.
func (p DiskProbe) ExternalStorageMounted(ctx context.Context) bool {
	if p.ExternalPath == "" {
		return false
	}
	target, err := filepath.Abs(p.ExternalPath)
	if err != nil {
		return false
	}

	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return false
	}
	mounted := false
	for _, part := range parts {
		if filepath.Clean(part.Mountpoint) == target {
			mounted = true
			break
		}
	}
	return mounted && writable(target)
}

// AvailableExternalBytes returns free bytes on the external medium.
func (p DiskProbe) AvailableExternalBytes(ctx context.Context) (int64, bool) {
	if !p.ExternalStorageMounted(ctx) {
		return 0, false
	}
	usage, err := disk.UsageWithContext(ctx, p.ExternalPath)
	if err != nil {
		return 0, false
	}
	return int64(usage.Free), true
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".facegate-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
