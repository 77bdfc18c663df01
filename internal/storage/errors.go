// Package storage defines the sentinel errors shared by the persistence
// implementations in its subpackages.
package storage

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChainConflict is returned when an append names a chain tip that is
	// no longer current.
	ErrChainConflict = errors.New("chain tip conflict")
	// ErrHandleTaken is returned when another identity holds the handle.
	ErrHandleTaken = errors.New("handle already taken")
	// ErrHandleSet is returned when the identity already claimed a handle.
	ErrHandleSet = errors.New("handle already set")
	// ErrDuplicate is returned when an insert collides with an existing key.
	ErrDuplicate = errors.New("duplicate key")
)
