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

package dbconn

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/cloudconnect-oss/dbconn/internal/telemetry"
)

// managerConfig collects the result of applying every Option. It is never
// exposed directly; NewManager builds a Manager and its orchestrator from it.
type managerConfig struct {
	iamAuth        bool
	tokenSource    oauth2.TokenSource
	logger         telemetry.Logger
	metrics        *telemetry.MetricRecorder
	refreshTimeout time.Duration
	dialerID       string
	limiter        *refreshLimiter
}

func defaultManagerConfig() *managerConfig {
	return &managerConfig{
		logger:   telemetry.NoopLogger{},
		metrics:  telemetry.NewNoopMetricRecorder(),
		dialerID: uuid.New().String(),
	}
}

// Option configures a Manager at construction time.
type Option func(*managerConfig)

// WithIAMAuthN enables IAM database authentication: the minted certificate
// carries an embedded OAuth2 access token, the TLS floor is raised to 1.3,
// and the refresh-ahead safety buffer shrinks from five minutes to 55
// seconds. tokenSource supplies the access tokens; it is required whenever
// this option is used.
func WithIAMAuthN(tokenSource oauth2.TokenSource) Option {
	return func(c *managerConfig) {
		c.iamAuth = true
		c.tokenSource = tokenSource
	}
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *managerConfig) { c.logger = l }
}

// WithMetricRecorder overrides the default no-op MetricRecorder.
func WithMetricRecorder(m *telemetry.MetricRecorder) Option {
	return func(c *managerConfig) { c.metrics = m }
}

// WithRefreshTimeout bounds how long a single refresh cycle (metadata fetch
// plus certificate minting) may take before it is abandoned. The zero value
// (the default) means no per-cycle timeout beyond the caller's own context.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *managerConfig) { c.refreshTimeout = d }
}

// WithDialerID overrides the random identifier stored on this Manager. The
// Manager does not attach it to its log lines, and it does not reach the
// MetricRecorder, whose metrics carry the dialer ID passed to
// NewMetricRecorder.
func WithDialerID(id string) Option {
	return func(c *managerConfig) { c.dialerID = id }
}

// withRefreshLimiter overrides the default refresh-rate limiter. It is
// unexported: production callers always get the fixed one-per-minute
// default; only this package's own tests need a faster one.
func withRefreshLimiter(l *refreshLimiter) Option {
	return func(c *managerConfig) { c.limiter = l }
}
