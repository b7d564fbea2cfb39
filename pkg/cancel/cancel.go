// Copyright 2024 The futexcond Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cancel supplies the cancellation collaborator consumed by
// pkg/cond's wait path: a cooperative cancellation test, and the
// register-once/runs-exactly-once hook-scope contract spec section 9
// describes. It is built atop context.Context, the idiomatic Go
// cancellation vocabulary, rather than POSIX pthread_cancel, since a Go
// port has no thread-directed signal delivery — only the shape of the
// hook is preserved, not the delivery mechanism.
package cancel

import (
	"context"
	"errors"
)

// ErrCanceled is returned by TestCanceled when ctx has been canceled.
var ErrCanceled = errors.New("condition variable wait: canceled")

// ClockID names the clock a condition variable is configured with. The
// wait path records it but computes timeouts with time.Until regardless
// of its value.
type ClockID int

const (
	// Monotonic names a monotonic clock.
	Monotonic ClockID = iota
	// Realtime names the system wall clock.
	Realtime
)

// TestCanceled performs the cooperative cancellation test spec section 4.3
// step 3 describes: if cancellation is already pending, the caller must
// not enqueue the waiter at all.
func TestCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCanceled
	default:
		return nil
	}
}

// RunOnCancel registers cleanup to run exactly once: either on the
// caller's own deferred unwind (the normal-return path, via the returned
// stop function reporting that it prevented cleanup from ever running,
// leaving the caller to invoke cleanup itself), or asynchronously the
// first time ctx is canceled while still armed. It returns a stop
// function: calling it disarms the hook, returning true if it
// successfully prevented cleanup from ever running, and false if
// cleanup already ran or is currently running — in the latter case stop
// blocks until that run completes before returning, unlike
// context.AfterFunc's own stop, which explicitly does not wait.
//
// This mirrors spec section 9's instruction to model the cancellation
// hook and the normal-return tail as a single cleanup function, with
// registration used solely to guarantee it also runs on a cancellation
// unwind; the wait-for-completion behavior is required by pkg/cond's
// TimedWait, which must not return to its caller while a concurrent
// unwait is still touching the waiter node.
func RunOnCancel(ctx context.Context, cleanup func()) (stop func() bool) {
	done := make(chan struct{})
	stopAF := context.AfterFunc(ctx, func() {
		cleanup()
		close(done)
	})
	return func() bool {
		if stopAF() {
			// context.AfterFunc guarantees the wrapped func will now
			// never run.
			return true
		}
		// Either already running concurrently or already finished;
		// either way, wait for the close(done) above to know which.
		<-done
		return false
	}
}
