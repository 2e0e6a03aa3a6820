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

// Package dbconn implements the per-instance credential lifecycle engine: it
// fetches instance metadata and an ephemeral client certificate, assembles a
// TLS configuration pinned to the instance's server CA, keeps that
// configuration fresh ahead of expiration, and serves it to database drivers
// with minimal latency.
package dbconn

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/cloudconnect-oss/dbconn/errtype"
	"github.com/cloudconnect-oss/dbconn/instanceid"
	"github.com/cloudconnect-oss/dbconn/internal/adminapi"
	"github.com/cloudconnect-oss/dbconn/internal/credential"
	"github.com/cloudconnect-oss/dbconn/internal/future"
	"github.com/cloudconnect-oss/dbconn/internal/telemetry"
)

// Manager is the Instance Credential Manager: one instance per target
// database instance identifier, launched once with NewManager and run
// perpetually for the life of the owning process. Close stops future
// scheduling and cancels the context a refresh in flight runs under.
type Manager struct {
	id  instanceid.ID
	orc *orchestrator

	mu      sync.Mutex
	current *future.Value[*Bundle]
	next    *future.Scheduled[*Bundle]
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc

	logger   telemetry.Logger
	dialerID string
}

// NewManager constructs a Manager for id and immediately launches its first
// refresh in the background; callers of TLSConfig, PreferredIP, or
// SSLSocket block until that first refresh completes. admin and keys are
// required. ctx governs the Manager's lifetime the way it would a long-lived
// background worker: canceling it is equivalent to calling Close.
func NewManager(ctx context.Context, id instanceid.ID, admin adminapi.AdminAPI, keys KeyPairSource, opts ...Option) (*Manager, error) {
	if admin == nil {
		return nil, errtype.NewConfigError("admin API client is required", id.String())
	}
	if keys == nil {
		return nil, errtype.NewConfigError("key pair source is required", id.String())
	}

	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.iamAuth && cfg.tokenSource == nil {
		return nil, errtype.NewConfigError("WithIAMAuthN requires a non-nil token source", id.String())
	}

	var tokens *credential.Provider
	if cfg.iamAuth {
		tokens = credential.NewProvider(cfg.tokenSource)
	}

	limiter := cfg.limiter
	if limiter == nil {
		limiter = newRefreshLimiter()
	}
	orc := &orchestrator{
		id:      id,
		admin:   admin,
		keys:    keys,
		tokens:  tokens,
		iamAuth: cfg.iamAuth,
		limiter: limiter,
		timeout: cfg.refreshTimeout,
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}

	mctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		id:       id,
		orc:      orc,
		ctx:      mctx,
		cancel:   cancel,
		logger:   cfg.logger,
		dialerID: cfg.dialerID,
	}

	first := future.NewValue[*Bundle]()
	m.current = first
	m.next = future.Completed(first)
	go m.runRefresh(first, telemetry.CauseScheduled)

	return m, nil
}

// runRefresh executes one refresh cycle, resolves v with its outcome, and —
// unless the Manager has been closed in the meantime — advances current and
// schedules the next cycle. It is always run on its own goroutine.
func (m *Manager) runRefresh(v *future.Value[*Bundle], cause telemetry.RefreshCause) {
	outcome, err := m.orc.performRefresh(m.ctx, cause)
	if err != nil {
		m.logger.Warnf(m.ctx, "refresh failed for %v: %v", m.id, err)
		v.Resolve(nil, err)
		m.advance(v, forcedRefreshInterval)
		return
	}
	v.Resolve(outcome.bundle, nil)
	m.advance(v, outcome.delay)
}

// advance installs v as current and arms the next scheduled refresh, delay
// from now. On success v always becomes current. On failure, v replaces
// current only if current is itself unusable — resolved with an error, or
// resolved to a bundle that has already expired; a current that has not yet
// resolved is kept (see currentIsUsableLocked) — so a
// sustained run of failures surfaces once the last good bundle expires
// instead of serving it forever. This mirrors the teacher's timer callback
// in internal/alloydb/instance.go, which sets i.cur = res unconditionally on
// success and only `if !i.cur.IsValid()` on failure.
func (m *Manager) advance(v *future.Value[*Bundle], delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := v.Peek(); err == nil || !m.currentIsUsableLocked() {
		m.current = v
	}
	if m.closed || m.ctx.Err() != nil {
		return
	}
	m.next = future.NewScheduled(delay, func(next *future.Value[*Bundle]) {
		m.runRefresh(next, telemetry.CauseScheduled)
	})
}

// currentIsUsableLocked reports whether m.current still serves a purpose:
// either it hasn't resolved yet (some reader is already waiting on it, or a
// ForceRefresh attached to it) or it resolved to a bundle that has not yet
// expired. Callers must hold m.mu.
func (m *Manager) currentIsUsableLocked() bool {
	if !m.current.Done() {
		return true
	}
	b, err := m.current.Peek()
	if err != nil || b == nil {
		return false
	}
	return b.ExpiresAt.After(time.Now())
}

// await blocks for the most recent Bundle, bootstrapping on the very first
// call the way the teacher's getCurrent does: a Manager constructed but not
// yet refreshed once simply blocks its first reader.
func (m *Manager) await(ctx context.Context) (*Bundle, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	return cur.Wait(ctx)
}

// TLSConfig returns a clone of the current credential bundle's TLS
// configuration. It blocks until at least one refresh has completed.
func (m *Manager) TLSConfig(ctx context.Context) (*tls.Config, error) {
	b, err := m.await(ctx)
	if err != nil {
		return nil, err
	}
	return b.TLSConfig.Clone(), nil
}

// PreferredIP returns the instance's IP address matching the first entry of
// preferred that the instance actually has, in priority order. preferred
// elements are IP type labels such as "PRIMARY", "PRIVATE", or "PSC".
func (m *Manager) PreferredIP(ctx context.Context, preferred []string) (string, error) {
	b, err := m.await(ctx)
	if err != nil {
		return "", err
	}
	for _, want := range preferred {
		if ip, ok := b.IPAddresses[want]; ok {
			return ip, nil
		}
	}
	return "", errtype.NewNoMatchingIPError(m.id.String(), preferred)
}

// SSLSocket wraps the current TLS configuration so a dialer can hand a raw
// net.Conn straight to Client. It does not resolve or dial an address; use
// PreferredIP for the address.
type SSLSocket struct {
	cfg *tls.Config
}

// Client wraps conn in a TLS client connection configured for this instance.
func (s *SSLSocket) Client(conn net.Conn) *tls.Conn {
	return tls.Client(conn, s.cfg)
}

// SSLSocket returns an SSLSocket built from the current credential bundle.
// It blocks until at least one refresh has completed.
func (m *Manager) SSLSocket(ctx context.Context) (*SSLSocket, error) {
	cfg, err := m.TLSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &SSLSocket{cfg: cfg}, nil
}

// ForceRefresh triggers an immediate refresh, preempting whatever scheduled
// refresh is pending. If a refresh is already running, ForceRefresh attaches
// to it instead of starting a second one; the rate limiter in the
// orchestrator then governs how soon it may actually run. ForceRefresh
// always succeeds in the sense that it always arranges for a fresh attempt;
// whether that attempt itself succeeds is only observable through a
// subsequent TLSConfig, PreferredIP, or SSLSocket call.
func (m *Manager) ForceRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if m.next.Cancel() {
		// The scheduled refresh had not yet started: launch one immediately
		// in its place.
		v := future.NewValue[*Bundle]()
		m.current = v
		m.next = future.Completed(v)
		go m.runRefresh(v, telemetry.CauseForced)
		return
	}

	// The scheduled refresh already started (or this is the very first
	// refresh, still running): attach to whatever Value it is resolving so
	// callers see its outcome instead of starting a redundant cycle.
	m.current = m.next.Inner()
}

// Close stops scheduling future refreshes and cancels the Manager's context,
// which aborts a refresh already in flight. A bundle already fetched stays
// readable. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.next.Cancel()
	m.cancel()
	return nil
}
