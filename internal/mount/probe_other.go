//go:build !unix

package mount

import "errors"

// IsMountPoint cannot tell mounts apart here; readiness falls back to the listing.
func IsMountPoint(path string) (bool, error) { return false, errors.ErrUnsupported }
