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
	"testing"
	"time"
)

func TestRefreshLimiterAllowsFirstCallImmediately(t *testing.T) {
	l := newRefreshLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.acquire(ctx, "conn-id"); err != nil {
		t.Fatalf("acquire() returned error on first call: %v", err)
	}
}

func TestRefreshLimiterThrottlesSecondCall(t *testing.T) {
	l := newRefreshLimiter()
	if err := l.acquire(context.Background(), "conn-id"); err != nil {
		t.Fatalf("acquire() returned error on first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.acquire(ctx, "conn-id"); err == nil {
		t.Fatal("acquire() = nil error on immediate second call, want a throttling error")
	}
}
