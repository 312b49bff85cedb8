package services

import "github.com/pkg/errors"

// Domain outcome kinds. All four are terminal for the current state: the
// core never retries them and callers should not either.
var (
	// ErrNotFound means the referenced entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation is not valid for the entity's
	// current lifecycle state
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict means the action was already performed
	ErrConflict = errors.New("conflict")
	// ErrGone means the resource is permanently unavailable (expired or
	// exhausted check-in code)
	ErrGone = errors.New("gone")
)
