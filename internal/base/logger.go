// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base holds small cross-cutting types shared by every tactcas
// package: the injectable logger and the stable error sentinels.
package base

import (
	"fmt"
	"log"
	"os"
)

// Logger defines an interface for writing log messages. Components accept a
// Logger rather than writing to stdlib log directly, so a caller embedding
// tactcas can route engine diagnostics into its own logging pipeline.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs to the Go stdlib logger.
type DefaultLogger struct{}

// Infof implements Logger.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Fatalf implements Logger.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// NoopLogger discards everything; used by tests that don't want log spam.
type NoopLogger struct{}

// Infof implements Logger.
func (NoopLogger) Infof(format string, args ...interface{}) {}

// Fatalf implements Logger.
func (NoopLogger) Fatalf(format string, args ...interface{}) { os.Exit(1) }
