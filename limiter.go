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
	"context"
	"time"

	"github.com/cloudconnect-oss/dbconn/errtype"
	"golang.org/x/time/rate"
)

// forcedRefreshInterval is the steady-state refresh rate: at most one
// admin-API round trip per minute per Manager, scheduled or forced alike
// (spec.md §4.7).
const forcedRefreshInterval = 60 * time.Second

// refreshLimiter throttles both scheduled and forced refreshes to protect
// the admin API's quota. It wraps golang.org/x/time/rate the same way the
// teacher's refresher.clientLimiter does in internal/alloydb/refresh.go.
type refreshLimiter struct {
	l *rate.Limiter
}

// newRefreshLimiter creates a token bucket with a burst of one and a
// refill rate of one token per forcedRefreshInterval.
func newRefreshLimiter() *refreshLimiter {
	return newRefreshLimiterWithRate(forcedRefreshInterval, 1)
}

// newRefreshLimiterWithRate is the parameterized constructor tests use to
// exercise throttling behavior without waiting out the production interval.
func newRefreshLimiterWithRate(interval time.Duration, burst int) *refreshLimiter {
	return &refreshLimiter{l: rate.NewLimiter(rate.Every(interval), burst)}
}

// acquire blocks until a token is available or ctx is done. RateLimited is
// never surfaced to callers of the Access Gate (spec.md §7); it is wrapped
// in a RefreshError so the Orchestrator's normal failure path handles it.
func (r *refreshLimiter) acquire(ctx context.Context, connID string) error {
	if err := r.l.Wait(ctx); err != nil {
		return errtype.NewRefreshError("refresh throttled until context expired", connID, err)
	}
	return nil
}
