package core

import (
	"errors"
	"fmt"

	"github.com/3cpo-dev/fusebench/internal/mount"
	"github.com/3cpo-dev/fusebench/internal/platform"
	"github.com/3cpo-dev/fusebench/pkg/api"
)

var (
	ErrNotFound      = platform.ErrNotFound
	ErrAmbiguousName = platform.ErrAmbiguousName
	ErrMountNotReady = mount.ErrNotReady

	ErrUnsupportedRegion = errors.New("unsupported region")
	ErrUnsupportedSize   = errors.New("unsupported size")
	ErrUnknownTest       = errors.New("unknown test")

	// ErrCopyFailed marks a failed timed copy. The run is aborted, no retry.
	ErrCopyFailed = errors.New("copy failed")

	// ErrStructuralSafety is returned before any deletion that would hit the home directory.
	ErrStructuralSafety = errors.New("structural safety violation")

	ErrMalformedResult = errors.New("malformed result")
	ErrContentMismatch = errors.New("content mismatch")
	ErrJobFailed       = errors.New("job failed")
)

// JobFailedError identifies the launched job whose terminal state was a failure.
type JobFailedError struct {
	JobID string
	State api.JobState
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("executable %s failed (%s)", e.JobID, e.State)
}

func (e *JobFailedError) Is(target error) bool { return target == ErrJobFailed }

// CopyError is a failed copy of one file over one access path.
type CopyError struct {
	File string
	Path api.PathLabel
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s copy of %s: %v", e.Path, e.File, e.Err)
}

func (e *CopyError) Unwrap() []error { return []error{ErrCopyFailed, e.Err} }
