package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a project, applet or object does not exist
	// or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousName is returned when a project name matches more than one project.
	ErrAmbiguousName = errors.New("ambiguous name")

	// ErrInvariant signals a result the API contract rules out, such as more
	// results than the requested limit.
	ErrInvariant = errors.New("invariant violation")
)

// APIError is an error reported by the API server in its JSON error envelope.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Type, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match missing resources.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.Type == "ResourceNotFound" || e.Status == 404)
}
