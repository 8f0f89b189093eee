// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

package cipherbun

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
)

// Conn is a thin handle over one dedicated database connection. A Conn
// is either "special", the authoritative handle installed for the
// duration of a create/upgrade callback, or an ordinary lease from the
// pool. The cancel-queries flag is fixed by the owning helper at
// construction time and governs whether statement contexts may carry
// cancellation through to the engine.
type Conn struct {
	bc            bun.Conn
	special       bool
	cancelQueries bool
}

func newConn(bc bun.Conn, special, cancelQueries bool) *Conn {
	return &Conn{bc: bc, special: special, cancelQueries: cancelQueries}
}

// Special reports whether this is the authoritative handle installed by
// the open machinery for a create/upgrade callback.
func (c *Conn) Special() bool { return c.special }

// IDB exposes the underlying connection for Bun query builders. DAO
// operations issued through a special handle run on the same physical
// connection as the create/upgrade callback that owns it.
func (c *Conn) IDB() bun.IDB { return c.bc }

// ExecContext executes a statement on this connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.bc.ExecContext(c.stmtCtx(ctx), query, args...)
}

// QueryContext runs a query on this connection.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.bc.QueryContext(c.stmtCtx(ctx), query, args...)
}

// QueryRowContext runs a single-row query on this connection.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.bc.QueryRowContext(c.stmtCtx(ctx), query, args...)
}

// stmtCtx strips cancellation when the owning helper was built without
// cancellable queries.
func (c *Conn) stmtCtx(ctx context.Context) context.Context {
	if c.cancelQueries {
		return ctx
	}
	return context.WithoutCancel(ctx)
}

// close releases the underlying connection back to the pool. Only the
// owner of the handle (the open machinery for special handles, the
// connection source for ordinary leases) may call it.
func (c *Conn) close() error {
	return c.bc.Close()
}
