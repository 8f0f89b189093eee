// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cipherbun errors. The taxonomy is small on purpose: a
// StateError means an invariant was violated or setup failed in a way
// that cannot be retried; a PersistenceError means the ORM collaborator
// could not build or operate a DAO.
package cipherbun

import (
	"errors"
	"fmt"
)

// ErrSourceClosed is returned when a connection is requested from a
// connection source that has already been closed.
var ErrSourceClosed = errors.New("connection source is closed")

// StateError reports an invariant violation or an unrecoverable setup
// fault: a failed special-connection install, a failed schema-config
// parse, a missing config resource, or a version downgrade. It is always
// fatal to the triggering call and never retried.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// stateErrorf builds a StateError with a formatted operation description.
func stateErrorf(err error, format string, v ...any) *StateError {
	return &StateError{Op: fmt.Sprintf(format, v...), Err: err}
}

// PersistenceError reports a fault building or operating a data access
// object. It propagates to the caller of DaoFor and the Dao methods; the
// MustDao adapter converts it into a panic for callers that opt in.
type PersistenceError struct {
	Entity string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persistence error for %s", e.Entity)
	}
	return fmt.Sprintf("persistence error for %s: %v", e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
