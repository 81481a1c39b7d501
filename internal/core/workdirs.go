package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/fusebench/internal/mount"
)

// isMounted is swapped in tests.
var isMounted = mount.IsMountPoint

// WorkDirs are the three directories recreated from empty on every local run.
type WorkDirs struct {
	Download   string
	MountCopy  string
	MountPoint string
}

// NewWorkDirs lays the directories out under base.
func NewWorkDirs(base string) WorkDirs {
	return WorkDirs{
		Download:   filepath.Join(base, "dxCopy"),
		MountCopy:  filepath.Join(base, "dxfs2Copy"),
		MountPoint: filepath.Join(base, "MNT"),
	}
}

func (w WorkDirs) all() []string { return []string{w.Download, w.MountCopy, w.MountPoint} }

// CheckSafe refuses any directory that is empty, the filesystem root, home,
// or the current user's home directory whatever home says.
func (w WorkDirs) CheckSafe(home string) error {
	protected := []string{string(filepath.Separator)}
	if home != "" {
		protected = append(protected, filepath.Clean(home))
	}
	if userHome, err := os.UserHomeDir(); err == nil && userHome != "" {
		protected = append(protected, filepath.Clean(userHome))
	}
	for _, d := range w.all() {
		if d == "" {
			return fmt.Errorf("empty working directory: %w", ErrStructuralSafety)
		}
		c := filepath.Clean(d)
		for _, p := range protected {
			if c == p {
				return fmt.Errorf("must not erase %s: %w", d, ErrStructuralSafety)
			}
		}
	}
	return nil
}

// checkUnmounted refuses a mount point that is still serving, which a run
// that died before unmounting leaves behind. A missing directory is fine.
func (w WorkDirs) checkUnmounted() error {
	mounted, err := isMounted(w.MountPoint)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errors.ErrUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("cannot inspect mount point %s (%v): %w", w.MountPoint, err, ErrStructuralSafety)
	case mounted:
		return fmt.Errorf("%s is still mounted, unmount it first: %w", w.MountPoint, ErrStructuralSafety)
	}
	return nil
}

// Reset deletes and recreates every directory. Nothing is touched unless
// all three pass CheckSafe and the mount point is not mounted.
func (w WorkDirs) Reset(home string) error {
	if err := w.CheckSafe(home); err != nil {
		return err
	}
	if err := w.checkUnmounted(); err != nil {
		return err
	}
	for _, d := range w.all() {
		log.Debug().Str("dir", d).Msg("recreating")
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("remove %s: %w", d, err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
