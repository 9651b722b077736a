package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// Allocator handles temp-file pre-allocation and disk space checks.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// OpenTemp opens the staging file read+write, creating it if absent, and
// extends it sparsely to size. Existing contents are preserved so a resumed
// job keeps the bytes written by earlier runs.
func (a *Allocator) OpenTemp(path string, size int64) (*os.File, error) {
	var existing int64
	if info, err := os.Stat(path); err == nil {
		existing = info.Size()
	}
	if size > existing {
		if err := a.checkDiskSpace(path, size-existing); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}
	if size > existing {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to pre-allocate space: %w", err)
		}
	}
	return f, nil
}

func (a *Allocator) checkDiskSpace(path string, required int64) error {
	dir := filepath.Dir(path)

	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	// 100MB headroom so the volume is not filled to the last block
	const buffer = 100 * 1024 * 1024

	if int64(usage.Free) < required+buffer {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", required, usage.Free)
	}
	return nil
}
