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

// Package future implements the nested-future scheduling primitive the
// credential manager relies on: a single-resolution Value[T], and a
// cancelable, timer-backed Scheduled[T] that owns the Value[T] its timed work
// resolves. The nesting lets a caller either pre-empt a not-yet-started
// refresh (cancel the timer) or attach itself to one already running (take
// the Scheduled[T]'s Inner Value[T], which is known from the moment the work
// is scheduled), without ever blocking while holding a lock.
package future

import (
	"context"
	"time"
)

// Value is a single-resolution future: it is produced empty, resolved
// exactly once by a call to Resolve, and may be waited on by any number of
// readers. It is the Go analogue of the teacher's refreshOperation.ready
// channel.
type Value[T any] struct {
	ready  chan struct{}
	result T
	err    error
}

// NewValue initializes an unresolved Value.
func NewValue[T any]() *Value[T] {
	return &Value[T]{ready: make(chan struct{})}
}

// Resolve completes the Value with a result and error. It must be called
// exactly once; subsequent calls panic.
func (v *Value[T]) Resolve(result T, err error) {
	v.result = result
	v.err = err
	close(v.ready)
}

// Wait blocks until the Value is resolved and returns its result. If ctx is
// canceled first, Wait returns ctx.Err() instead — except that callers
// needing the legacy uninterruptible contract described in spec.md §4.6
// should pass context.Background() so a cancellation can never race the
// result.
func (v *Value[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-v.ready:
		return v.result, v.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the Value has been resolved, without blocking.
func (v *Value[T]) Done() bool {
	select {
	case <-v.ready:
		return true
	default:
		return false
	}
}

// Peek returns the resolved result without blocking. It must only be called
// after Done reports true.
func (v *Value[T]) Peek() (T, error) {
	return v.result, v.err
}

// Scheduled is a future-of-a-future: it holds the *Value[T] that its work
// resolves once its internal timer fires and that work completes, or can be
// canceled beforehand so the work never starts at all.
type Scheduled[T any] struct {
	timer *time.Timer
	inner *Value[T]
}

// NewScheduled arranges for fn to run after d elapses on its own goroutine.
// fn is responsible for resolving the returned inner Value. Scheduled itself
// never blocks.
func NewScheduled[T any](d time.Duration, fn func(*Value[T])) *Scheduled[T] {
	inner := NewValue[T]()
	s := &Scheduled[T]{inner: inner}
	s.timer = time.AfterFunc(d, func() {
		fn(inner)
	})
	return s
}

// Completed wraps a Value whose work has already been started (it may or may
// not be resolved yet) as a Scheduled whose timer has already fired, so
// Cancel always reports false. Used when a forced refresh starts work
// immediately rather than waiting on a timer.
func Completed[T any](inner *Value[T]) *Scheduled[T] {
	t := time.NewTimer(0)
	t.Stop()
	return &Scheduled[T]{timer: t, inner: inner}
}

// Cancel stops the timer if it has not yet fired. It returns true if the
// timer was stopped before firing (so fn never ran), or false if the timer
// had already fired (fn is running or has already run).
func (s *Scheduled[T]) Cancel() bool {
	return s.timer.Stop()
}

// Inner returns the nested Value. It is available at once, before the timer
// fires, and resolves when fn resolves it, i.e. when the scheduled work
// completes; if the Scheduled is canceled before firing, it never resolves.
func (s *Scheduled[T]) Inner() *Value[T] {
	return s.inner
}
