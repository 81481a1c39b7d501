//go:build unix

package mount

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMountPoint reports whether path is on a different device than its parent.
func IsMountPoint(path string) (bool, error) {
	var st, parent unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(filepath.Clean(path)), &parent); err != nil {
		return false, err
	}
	// the root directory is its own parent
	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}
