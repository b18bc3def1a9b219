// Package store implements the element/board persistence used by the
// real-time engine: a gorm/postgres store and an in-memory store.
package store

import "errors"

var (
	// ErrNotFound no element/board matched the board-scoped key.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate an element with the same id already exists on the board.
	ErrDuplicate = errors.New("store: duplicate element id")
)
