// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

package cipherbun

import (
	"context"
	"sync"

	"github.com/toeirei/cipherbun/internal/logging"
	"github.com/uptrace/bun"
)

// ConnectionSource is the single arbitration point for obtaining a
// database connection. While a create/upgrade callback is in progress
// the source holds the callback's dedicated connection as the "special"
// connection, and every connection request is answered with that handle.
// This is what lets application code call back into DAO or schema
// operations from inside the callback without opening a second,
// conflicting connection to the same database file.
type ConnectionSource interface {
	// GetConnection returns the special connection while one is
	// installed, otherwise an ordinary lease from the pool. After Close
	// it logs a misuse warning and returns ErrSourceClosed.
	GetConnection(ctx context.Context) (*Conn, error)

	// ReleaseConnection returns an ordinary lease to the pool. It is a
	// no-op for the special connection, which is owned by the open
	// machinery.
	ReleaseConnection(conn *Conn)

	// SpecialConnection returns the currently installed special
	// connection, or nil.
	SpecialConnection() *Conn

	// SaveSpecialConnection installs conn as the special connection.
	// Installing the same handle again is a no-op; installing a second,
	// different handle while one is held is a StateError.
	SaveSpecialConnection(conn *Conn) error

	// ClearSpecialConnection removes the special connection if and only
	// if it is exactly conn, and reports whether it cleared anything.
	// A mismatched clear is deliberately a silent no-op: a stale clear
	// after a re-entrant replacement must not break the outer scope.
	ClearSpecialConnection(conn *Conn) bool

	// DB returns the Bun database handle for pool-backed ORM work.
	DB() *bun.DB

	// ORM returns the connection DAO query builders should run on: the
	// special connection while one is installed, the pooled DB
	// otherwise.
	ORM() bun.IDB

	// Close releases any still-special connection and the underlying
	// pool, and marks the source permanently closed.
	Close() error
}

// pooledSource is the ConnectionSource implementation backed by a
// *bun.DB connection pool. The special slot is guarded by an explicit
// mutex: unlike the Android-style hosts this design descends from, Go
// gives no serialization guarantee around create/upgrade invocation.
type pooledSource struct {
	mu            sync.Mutex
	special       *Conn
	closed        bool
	bdb           *bun.DB
	cancelQueries bool
	name          string
}

func newPooledSource(bdb *bun.DB, name string, cancelQueries bool) *pooledSource {
	return &pooledSource{bdb: bdb, name: name, cancelQueries: cancelQueries}
}

func (s *pooledSource) GetConnection(ctx context.Context) (*Conn, error) {
	s.mu.Lock()
	if s.special != nil {
		c := s.special
		s.mu.Unlock()
		return c, nil
	}
	if s.closed {
		s.mu.Unlock()
		logging.Warnf("cipherbun: connection requested from closed source %q", s.name)
		return nil, &StateError{Op: "get connection for " + s.name, Err: ErrSourceClosed}
	}
	s.mu.Unlock()

	bc, err := s.bdb.Conn(ctx)
	if err != nil {
		return nil, stateErrorf(err, "open connection for %s", s.name)
	}
	return newConn(bc, false, s.cancelQueries), nil
}

func (s *pooledSource) ReleaseConnection(conn *Conn) {
	if conn == nil || conn.special {
		return
	}
	if err := conn.close(); err != nil {
		logging.Debugf("cipherbun: release connection for %s: %v", s.name, err)
	}
}

func (s *pooledSource) SpecialConnection() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.special
}

func (s *pooledSource) SaveSpecialConnection(conn *Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.special != nil && s.special != conn {
		return &StateError{Op: "already has a special connection in a context that forbids it"}
	}
	s.special = conn
	logging.Debugf("cipherbun: special connection installed for %s", s.name)
	return nil
}

func (s *pooledSource) ClearSpecialConnection(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.special == nil || s.special != conn {
		return false
	}
	s.special = nil
	logging.Debugf("cipherbun: special connection cleared for %s", s.name)
	return true
}

func (s *pooledSource) DB() *bun.DB { return s.bdb }

func (s *pooledSource) ORM() bun.IDB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.special != nil {
		return s.special.bc
	}
	return s.bdb
}

func (s *pooledSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logging.Warnf("cipherbun: source %q closed twice", s.name)
		return nil
	}
	s.closed = true
	special := s.special
	s.special = nil
	s.mu.Unlock()

	if special != nil {
		// A special connection surviving to Close means an open
		// sequence was abandoned; release it with the pool.
		logging.Warnf("cipherbun: closing source %q with special connection still installed", s.name)
		_ = special.close()
	}
	return s.bdb.Close()
}
