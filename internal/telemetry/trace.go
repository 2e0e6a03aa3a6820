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

	"go.opencensus.io/trace"
)

// EndSpanFunc ends a span started by StartSpan, recording err (if any) as a
// span status.
type EndSpanFunc func(err error)

// StartSpan starts an OpenCensus span for a refresh-cycle operation, mirroring
// the teacher's internal/trace.StartSpan usage around fetchMetadata and
// fetchEphemeralCert.
func StartSpan(ctx context.Context, name string) (context.Context, EndSpanFunc) {
	ctx, span := trace.StartSpan(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		}
		span.End()
	}
}
