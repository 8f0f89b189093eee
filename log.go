// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

package cipherbun

import "github.com/toeirei/cipherbun/internal/logging"

// SetDebug enables or disables debug logging for the library.
// Disabled by default. Misuse warnings are emitted regardless.
func SetDebug(enabled bool) {
	logging.SetDebug(enabled)
}
