// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

package cipherbun

import (
	"context"
	"reflect"
	"sync"

	"github.com/toeirei/cipherbun/schema"
	"github.com/uptrace/bun"
)

// Dao is a data access object bound to one entity type and one
// connection source. All statements run through the source's ORM
// arbitration, so DAO calls made inside a create/upgrade callback reuse
// the callback's own connection.
type Dao[T any] struct {
	src       ConnectionSource
	entity    string
	tableExpr string
	alias     string
}

// daoKey identifies one cache entry: the same (source, type) pair always
// yields the same Dao instance.
type daoKey struct {
	src ConnectionSource
	typ reflect.Type
}

var (
	daoMu    sync.Mutex
	daoCache = make(map[daoKey]any)
)

// DaoFor returns the data access object for entity type T on src,
// constructing it on first use and serving it from the process-wide
// cache afterwards. Construction fails with a PersistenceError when T
// cannot be mapped.
func DaoFor[T any](src ConnectionSource) (*Dao[T], error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return nil, &PersistenceError{Entity: typ.String(), Err: stateErrorf(nil, "entity type must be a struct, got %s", typ.Kind())}
	}
	if src == nil {
		return nil, &PersistenceError{Entity: typ.Name(), Err: stateErrorf(nil, "nil connection source")}
	}

	daoMu.Lock()
	defer daoMu.Unlock()
	key := daoKey{src: src, typ: typ}
	if cached, ok := daoCache[key]; ok {
		return cached.(*Dao[T]), nil
	}

	d := &Dao[T]{src: src, entity: typ.Name()}
	if cfg, ok := schema.Lookup(typ.Name()); ok {
		// The registry overrides the table Bun derives from the struct;
		// keep Bun's alias so generated column references still resolve.
		d.tableExpr = cfg.Table
		d.alias = src.DB().Table(typ).Alias
	}
	daoCache[key] = d
	return d, nil
}

// ResetDaoCache drops all cached DAO instances. Intended for tests and
// for hosts tearing down a process-wide ORM registry.
func ResetDaoCache() {
	daoMu.Lock()
	defer daoMu.Unlock()
	daoCache = make(map[daoKey]any)
}

// Table reports the table expression this DAO queries: the registry
// override when one is registered, otherwise empty (Bun derives it).
func (d *Dao[T]) Table() string { return d.tableExpr }

// Create inserts the model.
func (d *Dao[T]) Create(ctx context.Context, model *T) error {
	q := d.src.ORM().NewInsert().Model(model)
	if d.tableExpr != "" {
		q = q.ModelTableExpr("? AS ?", bun.Name(d.tableExpr), bun.Name(d.alias))
	}
	if _, err := q.Exec(ctx); err != nil {
		return &PersistenceError{Entity: d.entity, Err: err}
	}
	return nil
}

// Get loads the row whose primary key matches the one set on model.
func (d *Dao[T]) Get(ctx context.Context, model *T) error {
	q := d.src.ORM().NewSelect().Model(model).WherePK()
	if d.tableExpr != "" {
		q = q.ModelTableExpr("? AS ?", bun.Name(d.tableExpr), bun.Name(d.alias))
	}
	if err := q.Scan(ctx); err != nil {
		return &PersistenceError{Entity: d.entity, Err: err}
	}
	return nil
}

// Update writes the model back by primary key.
func (d *Dao[T]) Update(ctx context.Context, model *T) error {
	q := d.src.ORM().NewUpdate().Model(model).WherePK()
	if d.tableExpr != "" {
		q = q.ModelTableExpr("? AS ?", bun.Name(d.tableExpr), bun.Name(d.alias))
	}
	if _, err := q.Exec(ctx); err != nil {
		return &PersistenceError{Entity: d.entity, Err: err}
	}
	return nil
}

// Delete removes the row matching the model's primary key.
func (d *Dao[T]) Delete(ctx context.Context, model *T) error {
	q := d.src.ORM().NewDelete().Model(model).WherePK()
	if d.tableExpr != "" {
		q = q.ModelTableExpr("? AS ?", bun.Name(d.tableExpr), bun.Name(d.alias))
	}
	if _, err := q.Exec(ctx); err != nil {
		return &PersistenceError{Entity: d.entity, Err: err}
	}
	return nil
}

// All returns every row of the entity's table.
func (d *Dao[T]) All(ctx context.Context) ([]T, error) {
	var models []T
	q := d.src.ORM().NewSelect().Model(&models)
	if d.tableExpr != "" {
		q = q.ModelTableExpr("? AS ?", bun.Name(d.tableExpr), bun.Name(d.alias))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, &PersistenceError{Entity: d.entity, Err: err}
	}
	return models, nil
}

// Count returns the number of rows in the entity's table.
func (d *Dao[T]) Count(ctx context.Context) (int, error) {
	var model T
	q := d.src.ORM().NewSelect().Model(&model)
	if d.tableExpr != "" {
		q = q.ModelTableExpr("? AS ?", bun.Name(d.tableExpr), bun.Name(d.alias))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, &PersistenceError{Entity: d.entity, Err: err}
	}
	return n, nil
}

// MustDao is the non-faulting adapter around a Dao: every persistence
// fault becomes a panic. For callers that prefer unconditional
// termination over explicit error handling.
type MustDao[T any] struct {
	dao *Dao[T]
}

// MustDaoFor returns the panic-on-error adapter for entity type T on
// src. It panics if the DAO cannot be constructed.
func MustDaoFor[T any](src ConnectionSource) *MustDao[T] {
	d, err := DaoFor[T](src)
	if err != nil {
		panic(err)
	}
	return &MustDao[T]{dao: d}
}

// Dao returns the underlying fallible DAO.
func (m *MustDao[T]) Dao() *Dao[T] { return m.dao }

func (m *MustDao[T]) Create(ctx context.Context, model *T) {
	if err := m.dao.Create(ctx, model); err != nil {
		panic(err)
	}
}

func (m *MustDao[T]) Get(ctx context.Context, model *T) {
	if err := m.dao.Get(ctx, model); err != nil {
		panic(err)
	}
}

func (m *MustDao[T]) Update(ctx context.Context, model *T) {
	if err := m.dao.Update(ctx, model); err != nil {
		panic(err)
	}
}

func (m *MustDao[T]) Delete(ctx context.Context, model *T) {
	if err := m.dao.Delete(ctx, model); err != nil {
		panic(err)
	}
}

func (m *MustDao[T]) All(ctx context.Context) []T {
	models, err := m.dao.All(ctx)
	if err != nil {
		panic(err)
	}
	return models
}

func (m *MustDao[T]) Count(ctx context.Context) int {
	n, err := m.dao.Count(ctx)
	if err != nil {
		panic(err)
	}
	return n
}
