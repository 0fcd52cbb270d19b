// Package store holds the error classes shared by the persistence backends.
package store

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks connection-level failures. It is the only storage error that stops the scheduler.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrConflict is returned when a compare-and-swap update lost the race.
	ErrConflict = errors.New("conflicting update")
)
