package graph

import "errors"

var (
	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCycleDetected is returned when an edge would close a cycle.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrDuplicateEdge is returned when an identical edge already exists.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrInvalidKind is returned when a node kind is not one of the known kinds.
	ErrInvalidKind = errors.New("invalid node kind")
)

// IsStructural reports whether err is one of the structural errors raised at
// the store boundary.
func IsStructural(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrDuplicateEdge) ||
		errors.Is(err, ErrInvalidKind)
}
