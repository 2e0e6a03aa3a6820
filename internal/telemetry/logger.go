// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry carries the ambient logging, tracing, and metrics the
// credential manager emits. Setting up a log sink or metrics backend is the
// embedder's job (spec.md §1 lists logging infrastructure setup as out of
// scope); this package only defines the interfaces the core logs/records
// through, plus a reasonable default implementation of each.
package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// Logger is the minimal logging interface the credential manager depends
// on. It intentionally has no Errorf: failures are always returned as
// errors; only non-fatal, diagnostic detail goes through this interface.
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
}

// NoopLogger discards everything. It is the zero-value default so a Manager
// constructed without a logger Option behaves quietly rather than crashing.
type NoopLogger struct{}

// Debugf implements Logger.
func (NoopLogger) Debugf(context.Context, string, ...interface{}) {}

// Warnf implements Logger.
func (NoopLogger) Warnf(context.Context, string, ...interface{}) {}

// ZapLogger adapts a *zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger wraps l as a Logger.
func NewZapLogger(l *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{l: l}
}

// Debugf implements Logger.
func (z *ZapLogger) Debugf(_ context.Context, format string, args ...interface{}) {
	z.l.Debugf(format, args...)
}

// Warnf implements Logger.
func (z *ZapLogger) Warnf(_ context.Context, format string, args ...interface{}) {
	z.l.Warnf(format, args...)
}
