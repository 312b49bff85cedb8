package repositories

import "errors"

// Common repository errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrUpdateFailed = errors.New("failed to update record")
	ErrDuplicateKey = errors.New("duplicate key violation")
)
