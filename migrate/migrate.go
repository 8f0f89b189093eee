// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// Package migrate provides a cipherbun.Callbacks implementation that
// applies ordered SQL migration files from an fs.FS. File names follow
// the `<version>_<name>.up.sql` convention; the leading integer is the
// schema version the file brings the database to.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/toeirei/cipherbun"
)

// Callbacks applies SQL files from an fs.FS in version order. On create
// it applies every file up to the target version; on upgrade it applies
// the files with oldVersion < version <= newVersion.
type Callbacks struct {
	fsys   fs.FS
	dir    string
	target int
}

// New builds migration callbacks over fsys for the given target schema
// version (the same version handed to the open helper). dir may be "."
// for the filesystem root.
func New(fsys fs.FS, dir string, target int) *Callbacks {
	return &Callbacks{fsys: fsys, dir: dir, target: target}
}

// OnCreate applies the migration files up to the target version.
func (c *Callbacks) OnCreate(ctx context.Context, conn *cipherbun.Conn, _ cipherbun.ConnectionSource) error {
	return c.apply(ctx, conn, 0, c.target)
}

// OnUpgrade applies the migration files between the stored and target
// versions.
func (c *Callbacks) OnUpgrade(ctx context.Context, conn *cipherbun.Conn, _ cipherbun.ConnectionSource, oldVersion, newVersion int) error {
	return c.apply(ctx, conn, oldVersion, newVersion)
}

// migration is one parsed migration file.
type migration struct {
	version int
	name    string
}

func (c *Callbacks) apply(ctx context.Context, conn *cipherbun.Conn, after, upTo int) error {
	migs, err := c.list()
	if err != nil {
		return err
	}
	for _, m := range migs {
		if m.version <= after || m.version > upTo {
			continue
		}
		data, err := fs.ReadFile(c.fsys, c.path(m.name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.name, err)
		}
		if err := c.applyOne(ctx, conn, m, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// applyOne runs a single migration file inside a transaction on the
// callback's dedicated connection.
func (c *Callbacks) applyOne(ctx context.Context, conn *cipherbun.Conn, m migration, script string) error {
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("begin migration %s: %w", m.name, err)
	}
	if _, err := conn.ExecContext(ctx, script); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("apply migration %s: %w", m.name, err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

// list collects and sorts the .up.sql files under dir.
func (c *Callbacks) list() ([]migration, error) {
	entries, err := fs.ReadDir(c.fsys, c.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", c.dir, err)
	}
	var migs []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s has no version prefix", e.Name())
		}
		v, err := strconv.Atoi(prefix)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("migration %s has an invalid version prefix", e.Name())
		}
		migs = append(migs, migration{version: v, name: e.Name()})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

func (c *Callbacks) path(name string) string {
	if c.dir == "" || c.dir == "." {
		return name
	}
	return c.dir + "/" + name
}
