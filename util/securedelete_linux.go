//go:build linux

package util

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// filesystems that never overwrite blocks in place
var copyOnWriteMagic = map[int64]string{
	0x9123683e: "btrfs",
	0x2fc12fc1: "zfs",
	0x3434:     "nilfs",
	0xf2f52010: "f2fs",
}

// CheckInPlaceMedium fails when the filesystem holding path is known to be
// copy on write, where an overwrite does not reach the original blocks.
func CheckInPlaceMedium(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return fmt.Errorf("failed to inspect storage medium: %w", err)
	}
	if name, ok := copyOnWriteMagic[int64(st.Type)]; ok {
		return fmt.Errorf("storage medium %s is copy on write", name)
	}
	return nil
}
