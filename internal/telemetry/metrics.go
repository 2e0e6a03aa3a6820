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

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterName    = "dbconn/credential-manager"
	refreshCount = "refresh_count"
	refreshLat   = "refresh_latencies"
)

// RefreshStatus labels a refresh metric by outcome.
type RefreshStatus string

// RefreshCause labels a refresh metric by what triggered it.
type RefreshCause string

const (
	// RefreshSuccess indicates the refresh produced a usable bundle.
	RefreshSuccess RefreshStatus = "success"
	// RefreshFailure indicates the refresh failed.
	RefreshFailure RefreshStatus = "failure"

	// CauseScheduled indicates the refresh ahead timer fired on schedule.
	CauseScheduled RefreshCause = "scheduled"
	// CauseForced indicates an embedder/driver called ForceRefresh.
	CauseForced RefreshCause = "forced"
)

// MetricRecorder records the outcome and latency of refresh cycles. Unlike
// the teacher's tel.MetricRecorder, it carries no dial/byte-count
// instruments: those describe the socket layer, which is out of scope here.
type MetricRecorder struct {
	dialerID      string
	mRefreshCount metric.Int64Counter
	mRefreshLat   metric.Float64Histogram
}

// NewMetricRecorder creates a MetricRecorder backed by an OpenTelemetry
// MeterProvider. Passing a noop provider (the OTel SDK default) yields a
// MetricRecorder that records into nothing, which is the right default when
// an embedder hasn't configured a metrics backend.
func NewMetricRecorder(provider metric.MeterProvider, dialerID string) (*MetricRecorder, error) {
	m := provider.Meter(meterName)
	mRefreshCount, err := m.Int64Counter(refreshCount)
	if err != nil {
		return nil, err
	}
	mRefreshLat, err := m.Float64Histogram(refreshLat)
	if err != nil {
		return nil, err
	}
	return &MetricRecorder{
		dialerID:      dialerID,
		mRefreshCount: mRefreshCount,
		mRefreshLat:   mRefreshLat,
	}, nil
}

// NewNoopMetricRecorder creates a MetricRecorder that records nowhere, for
// use when an embedder hasn't opted into metrics.
func NewNoopMetricRecorder() *MetricRecorder {
	p := sdkmetric.NewMeterProvider()
	mr, err := NewMetricRecorder(p, "")
	if err != nil {
		// Instrument creation on a fresh, reader-less MeterProvider cannot
		// fail; if it ever does, there is nothing more useful to do with
		// a recorder than one that quietly can't record anything.
		return &MetricRecorder{}
	}
	return mr
}

// RecordRefresh records one completed refresh cycle.
func (m *MetricRecorder) RecordRefresh(ctx context.Context, status RefreshStatus, cause RefreshCause, latency time.Duration) {
	if m == nil || m.mRefreshCount == nil {
		return
	}
	attrs := metric.WithAttributeSet(attribute.NewSet(
		attribute.String("status", string(status)),
		attribute.String("cause", string(cause)),
		attribute.String("dialer_id", m.dialerID),
	))
	m.mRefreshCount.Add(ctx, 1, attrs)
	if m.mRefreshLat != nil {
		m.mRefreshLat.Record(ctx, float64(latency.Milliseconds()), attrs)
	}
}
