// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// cipherbun.go holds the OpenHelper: the orchestrator that intercepts
// the engine handle during create/upgrade, publishes it through the
// ConnectionSource for exactly the duration of the callback, and
// retracts it afterwards even when the callback fails.
package cipherbun

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"

	"github.com/toeirei/cipherbun/internal/logging"
	"github.com/toeirei/cipherbun/schema"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Callbacks is the application-supplied capability invoked by the open
// machinery. OnCreate runs when the database file has no schema yet;
// OnUpgrade runs when the stored schema version is older than the
// helper's target version.
//
// Implementations must route all DAO and schema access through the
// supplied ConnectionSource (or the helper's GetConnectionSource), never
// construct an independent one: the supplied source is what redirects
// nested connection requests onto the callback's own connection.
type Callbacks interface {
	OnCreate(ctx context.Context, conn *Conn, src ConnectionSource) error
	OnUpgrade(ctx context.Context, conn *Conn, src ConnectionSource, oldVersion, newVersion int) error
}

// CallbackFuncs adapts plain closures to the Callbacks interface. A nil
// func is a no-op.
type CallbackFuncs struct {
	Create  func(ctx context.Context, conn *Conn, src ConnectionSource) error
	Upgrade func(ctx context.Context, conn *Conn, src ConnectionSource, oldVersion, newVersion int) error
}

func (f CallbackFuncs) OnCreate(ctx context.Context, conn *Conn, src ConnectionSource) error {
	if f.Create == nil {
		return nil
	}
	return f.Create(ctx, conn, src)
}

func (f CallbackFuncs) OnUpgrade(ctx context.Context, conn *Conn, src ConnectionSource, oldVersion, newVersion int) error {
	if f.Upgrade == nil {
		return nil
	}
	return f.Upgrade(ctx, conn, src, oldVersion, newVersion)
}

// OpenHelper owns one ConnectionSource for its lifetime and orchestrates
// schema create/upgrade against the target version. It is the Go
// rendition of the SQLite open-helper contract: construct it once, call
// Open, use GetConnectionSource and the DAO helpers, Close at shutdown.
type OpenHelper struct {
	name          string
	version       int
	credential    string
	cancelQueries bool
	busyTimeoutMS int
	queryHook     bun.QueryHook
	callbacks     Callbacks

	src    *pooledSource
	opened bool
	closed bool
}

// Option configures an OpenHelper at construction time.
type Option func(*OpenHelper) error

// WithCredential retains the credential handed to the encrypted engine
// via a key pragma on open. Key management itself is the engine's
// business.
func WithCredential(credential string) Option {
	return func(h *OpenHelper) error {
		h.credential = credential
		return nil
	}
}

// WithCancelQueries controls whether statement contexts issued through
// connection handles carry cancellation. Disabled by default.
func WithCancelQueries(enabled bool) Option {
	return func(h *OpenHelper) error {
		h.cancelQueries = enabled
		return nil
	}
}

// WithBusyTimeout sets the engine busy timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(h *OpenHelper) error {
		h.busyTimeoutMS = ms
		return nil
	}
}

// WithQueryHook installs a Bun query hook on the database handle at
// open time, for tracing or statement rewriting.
func WithQueryHook(hook bun.QueryHook) Option {
	return func(h *OpenHelper) error {
		h.queryHook = hook
		return nil
	}
}

// WithSchemaConfigFile parses the schema-config file at path into the
// process-wide registry. A missing or malformed file is fatal to
// construction: a silently empty registry would corrupt all later DAO
// behavior.
func WithSchemaConfigFile(path string) Option {
	return func(h *OpenHelper) error {
		if err := schema.LoadFile(path); err != nil {
			return stateErrorf(err, "load schema config %s", path)
		}
		return nil
	}
}

// WithSchemaConfigFS parses the schema-config resource at path inside
// fsys, typically an embedded filesystem. A missing or malformed
// resource is fatal to construction.
func WithSchemaConfigFS(fsys fs.FS, path string) Option {
	return func(h *OpenHelper) error {
		f, err := fsys.Open(path)
		if err != nil {
			return stateErrorf(err, "open schema config resource %s", path)
		}
		defer func() { _ = f.Close() }()
		if err := schema.Load(f); err != nil {
			return stateErrorf(err, "load schema config resource %s", path)
		}
		return nil
	}
}

// WithSchemaConfig parses schema config from r into the process-wide
// registry. A nil reader is a no-op. If r is an io.Closer it is closed
// once parsing finishes, whatever the outcome; the close error is
// swallowed since it cannot affect correctness at that point.
func WithSchemaConfig(r io.Reader) Option {
	return func(h *OpenHelper) error {
		if r == nil {
			return nil
		}
		err := schema.Load(r)
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
		if err != nil {
			return stateErrorf(err, "load schema config stream")
		}
		return nil
	}
}

const defaultBusyTimeoutMS = 5000

// New builds an OpenHelper for the named database file and target
// schema version. The database is not touched until Open.
func New(name string, version int, cb Callbacks, opts ...Option) (*OpenHelper, error) {
	if name == "" {
		return nil, &StateError{Op: "database name must not be empty"}
	}
	if version < 1 {
		return nil, stateErrorf(nil, "schema version must be >= 1, got %d", version)
	}
	if cb == nil {
		cb = CallbackFuncs{}
	}
	h := &OpenHelper{
		name:          name,
		version:       version,
		callbacks:     cb,
		busyTimeoutMS: defaultBusyTimeoutMS,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Open opens the database engine and drives the create/upgrade sequence
// against the target schema version on a single dedicated connection.
// Opening an already-open helper is a no-op.
func (h *OpenHelper) Open(ctx context.Context) error {
	if h.closed {
		return &StateError{Op: "open helper for " + h.name + " is closed"}
	}
	if h.opened {
		return nil
	}

	sqldb, err := sql.Open("sqlite", h.dsn())
	if err != nil {
		return stateErrorf(err, "open database %s", h.name)
	}
	if h.name == ":memory:" {
		// A plain in-memory database is per-connection; force a single
		// pooled connection so the schema stays visible.
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
	}
	bdb := bun.NewDB(sqldb, sqlitedialect.New())
	if h.queryHook != nil {
		bdb.AddQueryHook(h.queryHook)
	}
	h.src = newPooledSource(bdb, h.name, h.cancelQueries)

	if err := h.openSequence(ctx); err != nil {
		_ = h.src.Close()
		h.src = nil
		return err
	}
	h.opened = true
	return nil
}

// openSequence leases the dedicated connection, dispatches create or
// upgrade, and stamps the new schema version.
func (h *OpenHelper) openSequence(ctx context.Context) error {
	bc, err := h.src.DB().Conn(ctx)
	if err != nil {
		return stateErrorf(err, "lease open connection for %s", h.name)
	}
	defer func() { _ = bc.Close() }()

	var current int
	if err := bc.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return stateErrorf(err, "read schema version of %s", h.name)
	}

	switch {
	case current == h.version:
		logging.Debugf("cipherbun: %s already at version %d", h.name, current)
		return nil
	case current > h.version:
		return stateErrorf(nil, "database %s is at version %d, newer than target %d (downgrade unsupported)", h.name, current, h.version)
	case current == 0:
		if err := h.OnCreate(ctx, bc); err != nil {
			return err
		}
	default:
		if err := h.OnUpgrade(ctx, bc, current, h.version); err != nil {
			return err
		}
	}

	if _, err := bc.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", h.version)); err != nil {
		return stateErrorf(err, "stamp schema version of %s", h.name)
	}
	return nil
}

// OnCreate runs the application create callback with raw installed as
// the special connection. It is exported for hosts that drive their own
// open sequencing; Open calls it for version-zero databases.
func (h *OpenHelper) OnCreate(ctx context.Context, raw bun.Conn) error {
	return h.withSpecial(raw, func(conn *Conn) error {
		logging.Debugf("cipherbun: creating schema of %s at version %d", h.name, h.version)
		return h.callbacks.OnCreate(ctx, conn, h.src)
	})
}

// OnUpgrade runs the application upgrade callback with raw installed as
// the special connection. It is exported for hosts that drive their own
// open sequencing; Open calls it when the stored version is behind.
func (h *OpenHelper) OnUpgrade(ctx context.Context, raw bun.Conn, oldVersion, newVersion int) error {
	return h.withSpecial(raw, func(conn *Conn) error {
		logging.Debugf("cipherbun: upgrading schema of %s from %d to %d", h.name, oldVersion, newVersion)
		return h.callbacks.OnUpgrade(ctx, conn, h.src, oldVersion, newVersion)
	})
}

// withSpecial is the special-connection protocol. If no special
// connection is installed, this invocation wraps raw and installs it,
// and is then the one responsible for clearing it on the way out,
// success or fault. A nested invocation that finds an already-installed
// special connection reuses it and must not clear it.
func (h *OpenHelper) withSpecial(raw bun.Conn, fn func(conn *Conn) error) error {
	if h.src == nil {
		return &StateError{Op: "open helper for " + h.name + " has no connection source (call Open first)"}
	}
	clearSpecial := false
	conn := h.src.SpecialConnection()
	if conn == nil {
		conn = newConn(raw, true, h.cancelQueries)
		if err := h.src.SaveSpecialConnection(conn); err != nil {
			// A failed install means the open sequence is already
			// corrupted; there is no safe way to proceed or retry.
			return stateErrorf(err, "install special connection for %s", h.name)
		}
		clearSpecial = true
	}
	defer func() {
		if clearSpecial {
			h.src.ClearSpecialConnection(conn)
		}
	}()
	return fn(conn)
}

// GetConnectionSource returns the helper's connection source. It never
// fails, including after Close, but post-close calls indicate a
// lifecycle bug in the caller and are logged on every call.
func (h *OpenHelper) GetConnectionSource() ConnectionSource {
	if h.closed {
		logging.Warnf("cipherbun: GetConnectionSource called on closed helper for %s", h.name)
	}
	if h.src == nil {
		return nil
	}
	return h.src
}

// Close closes the owned connection source and flips the helper closed,
// irreversibly. Closing twice is a no-op.
func (h *OpenHelper) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.opened = false
	if h.src == nil {
		return nil
	}
	return h.src.Close()
}

// dsn assembles the engine DSN: database name plus busy timeout,
// foreign keys, and the key pragma when a credential was supplied.
func (h *OpenHelper) dsn() string {
	base := h.name
	if !strings.HasPrefix(base, "file:") && base != ":memory:" {
		base = "file:" + base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "%s_pragma=busy_timeout(%d)", sep, h.busyTimeoutMS)
	b.WriteString("&_pragma=foreign_keys(1)")
	if h.credential != "" {
		fmt.Fprintf(&b, "&_pragma=key(%s)", url.QueryEscape(h.credential))
	}
	return b.String()
}
