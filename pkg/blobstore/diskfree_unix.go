//go:build unix

package blobstore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func diskFree(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return -1, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
