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
	"github.com/aogrcs/futexcond/pkg/cancel"
	"github.com/aogrcs/futexcond/pkg/ssdlock"
)

// Cond is a process-wide condition variable core. The zero value, aside
// from Shared/Clock configuration, is a usable private condition
// variable with an empty waiter list.
//
// Construction, attribute handling, and destruction of a Cond are out of
// scope here (spec section 1); callers are responsible for not calling
// TimedWait, Signal, or Broadcast concurrently with destruction, and for
// ensuring all waiters have left before reclaiming a Cond's storage.
type Cond struct {
	// lock protects head/tail/waiter-state-transitions while a waiter is
	// attached to this cv (private case only).
	lock ssdlock.Lock

	// seq is the futex word for the process-shared case; it has no
	// meaning for a private cv.
	seq int32

	// waiters counts attached waiters in the process-shared case only.
	// The sentinel value destroyPending requests a wakeup of a thread
	// waiting to destroy the cv once the count reaches it.
	waiters int32

	clock  cancel.ClockID
	shared bool

	head, tail *waiter
}

// destroyPending is musl's -0x7fffffff sentinel: a_fetch_add observing
// this value after decrementing waiters means the destroyer is waiting
// for the last process-shared waiter to leave.
const destroyPending = -0x7fffffff

// New returns a Cond. shared selects process-shared semantics, in which
// case the linked waiter list is never used (automatic storage isn't
// visible across processes) and a monotonically-advancing sequence
// counter plus the kernel's own futex table stand in for it.
func New(shared bool, clock cancel.ClockID) *Cond {
	return &Cond{shared: shared, clock: clock}
}
