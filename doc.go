// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cipherbun bridges the Bun ORM to an encrypted, embedded
// SQLite engine through an open-helper lifecycle: versioned schema
// create/upgrade callbacks on a single dedicated connection, a
// ConnectionSource that answers nested connection requests with that
// same connection while a callback is running, and per-type cached data
// access objects.
//
// Typical use:
//
//	helper, err := cipherbun.New("app.db", 2, myCallbacks,
//		cipherbun.WithCredential(key),
//		cipherbun.WithSchemaConfigFile("schema.yaml"))
//	if err != nil {
//		return err
//	}
//	if err := helper.Open(ctx); err != nil {
//		return err
//	}
//	defer helper.Close()
//
//	users, err := cipherbun.DaoFor[User](helper.GetConnectionSource())
package cipherbun
