package repository

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a compare-and-set lost: the row was not in the expected state.
	ErrConflict = errors.New("status conflict")
)
