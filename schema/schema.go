// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// Package schema holds the process-wide registry of per-entity table
// mapping config consulted by DAO construction. The registry must be
// populated before first DAO use; entries are immutable once inserted.
package schema

import "sync"

// Column maps one struct field to a database column.
type Column struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
}

// Table is the mapping config for one entity type.
type Table struct {
	Entity  string   `yaml:"entity"`
	Table   string   `yaml:"table"`
	Columns []Column `yaml:"columns"`
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Table)
)

// Register adds or replaces the mapping config for t.Entity.
func Register(t Table) {
	mu.Lock()
	defer mu.Unlock()
	registry[t.Entity] = t
}

// Lookup returns the mapping config registered for the entity name.
func Lookup(entity string) (Table, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[entity]
	return t, ok
}

// Len reports the number of registered entities.
func Len() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(registry)
}

// Reset clears the registry. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Table)
}
