// Package core implements the Drift state reconciliation engine.
package core

import "errors"

// Validation sentinels. These are caught before any I/O and surface as
// lightweight user notices, never as crashes.
var (
	// ErrDefaultCategory rejects delete/move/reorder of the reserved
	// default category.
	ErrDefaultCategory = errors.New("the default category cannot be deleted, moved or reordered")

	// ErrNotPermitted rejects an action the current user's resolved
	// permissions disallow.
	ErrNotPermitted = errors.New("not permitted")

	// ErrNoOp rejects a mutation that would change nothing.
	ErrNoOp = errors.New("no-op")

	// ErrNotFound rejects an operation on an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists rejects creating a duplicate.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConnected rejects backend-only operations in local mode.
	ErrNotConnected = errors.New("no backend connected")
)
