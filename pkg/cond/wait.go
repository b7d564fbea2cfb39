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

package cond

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aogrcs/futexcond/pkg/cancel"
	"github.com/aogrcs/futexcond/pkg/futex"
	"github.com/aogrcs/futexcond/pkg/mutex"
	"github.com/aogrcs/futexcond/pkg/syserr"
)

// Deadline is an absolute point in time. The remaining time is computed
// with time.Until(At) and handed to the kernel as a relative timeout; the
// Cond's configured clock is not consulted. A nil *Deadline passed to
// TimedWait waits forever.
type Deadline struct {
	// Nanosecond must be in [0, 1e9) to be valid; an out-of-range value
	// is the "malformed deadline" spec section 4.3 step 2 rejects with
	// ErrInvalidArgument — mirroring musl's ts->tv_nsec >= 1000000000UL
	// check, which exists because callers sometimes pass a
	// microsecond-denominated value into a nanosecond field by mistake.
	Nanosecond int
	At         time.Time
}

func (d *Deadline) valid() bool {
	return d == nil || (d.Nanosecond >= 0 && d.Nanosecond < 1_000_000_000)
}

func (d *Deadline) remaining() time.Duration {
	return time.Until(d.At)
}

// TimedWait is called by the caller holding mutex m. On every return path
// — normal wake, timeout, or cancellation unwind — m is held again by the
// caller. Preconditions: the caller owns m; c is paired with at most one
// mutex for as long as any waiter is attached (spec section 3's
// invariant).
func TimedWait(ctx context.Context, c *Cond, m *mutex.Mutex, id mutex.ThreadID, deadline *Deadline) error {
	if err := m.CheckOwner(id); err != nil {
		return err
	}
	if !deadline.valid() {
		return syserr.ErrInvalidArgument
	}
	if err := cancel.TestCanceled(ctx); err != nil {
		// Cancellation was already pending: do not enqueue at all. m
		// has not been released, so the caller still holds it; per spec
		// section 4.3 step 3 we simply decline to wait.
		return err
	}

	w := newWaiter(c, m, id)
	w.mutexRet = nil

	var fut *int32
	var expected int32
	if c.shared {
		w.shared = true
		fut = &c.seq
		expected = futex.Load(&c.seq)
		futex.Inc(&c.waiters)
	} else {
		fut = &w.state
		enqueuePrivate(c, w)
		expected = waitingVal
	}

	m.Unlock(id)

	stop := cancel.RunOnCancel(ctx, func() { unwait(w) })
	err := waitLoop(ctx, fut, expected, c.clock, deadline, !w.shared)
	// stop disarms the cancellation hook. If it reports true, it
	// successfully prevented the hook from ever running, so this is the
	// normal-return path and we run unwait ourselves; if it reports
	// false, the hook already ran (or is running, in which case stop
	// blocks until it finishes) on another goroutine, and must not be
	// run a second time — unwait is not idempotent (it would double-
	// unlink and double-lock the mutex).
	if stop() {
		unwait(w)
	} else if err == nil && !w.shared && futex.Load(&w.state) == int32(leaving) {
		// The cancellation hook won the WAITING->LEAVING CAS, so this
		// waiter left without consuming a signal: report the cancellation.
		err = cancel.ErrCanceled
	}

	if w.mutexRet != nil {
		return w.mutexRet
	}
	return err
}

const waitingVal = int32(waiting)

func enqueuePrivate(c *Cond, w *waiter) {
	c.lock.Acquire()
	w.state = waitingVal
	w.next = c.head
	c.head = w
	if c.tail == nil {
		c.tail = w
	} else {
		w.next.prev = w
	}
	c.lock.Release()
}

// waitLoop retries the kernel wait across spurious wakeups (the futex
// word unchanged and no error, or an interrupted syscall) until the word
// changes, a real error occurs, the deadline elapses, or ctx is
// canceled.
//
// The ctx check exists for the process-shared path: a private waiter's
// fut is its own state word, which a cancellation CAS always flips
// before waking it, so the word-changed check alone resolves it. A
// shared waiter's fut is the cv's single sequence counter shared by
// every attached waiter, which cancelling one waiter never changes —
// unwaitShared's extra wake on it would otherwise only produce a
// spurious wakeup that this loop retried forever. Checking ctx
// explicitly closes that gap for the case the value-changed check
// cannot cover.
func waitLoop(ctx context.Context, fut *int32, expected int32, clock cancel.ClockID, deadline *Deadline, private bool) error {
	for {
		if err := cancel.TestCanceled(ctx); err != nil {
			return err
		}

		var ts *unix.Timespec
		if deadline != nil {
			remaining := deadline.remaining()
			if remaining <= 0 {
				if futex.Load(fut) == expected {
					return syserr.ErrTimedOut
				}
				return nil
			}
			t := unix.NsecToTimespec(remaining.Nanoseconds())
			ts = &t
		}

		err := futex.Wait(fut, expected, ts, private)
		if futex.Load(fut) != expected {
			return nil
		}
		if err == nil || err == unix.EINTR {
			continue
		}
		if err == unix.ETIMEDOUT {
			return syserr.ErrTimedOut
		}
		if err == unix.EAGAIN {
			// The word had already changed by the time the kernel
			// checked it; the Load above will have caught that unless
			// it's racing a concurrent re-arm, so just retry the check.
			continue
		}
		return err
	}
}
