// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging provides the shared logging helpers for cipherbun.
// Debug output is off by default and can be toggled at runtime.
package logging

import "log"

var debugEnabled bool

// SetDebug enables or disables debug logging for the library.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

// Debugf logs a formatted debug message when debug is enabled.
// Debugf is a no-op when debug is disabled.
func Debugf(format string, v ...any) {
	if debugEnabled {
		log.Printf(format, v...)
	}
}

// Infof logs an informational formatted message.
func Infof(format string, v ...any) {
	log.Printf(format, v...)
}

// Warnf logs a warning formatted message. Warnings are always emitted;
// they signal caller bugs (such as use-after-close) rather than faults.
func Warnf(format string, v ...any) {
	log.Printf("warning: "+format, v...)
}

// Errorf logs an error formatted message.
func Errorf(format string, v ...any) {
	log.Printf(format, v...)
}
