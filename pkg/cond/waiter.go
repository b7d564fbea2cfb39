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

// Package cond implements the core of a POSIX-style condition variable:
// the timed-wait / signal / broadcast protocol and the waiter-list state
// machine backing it, atop pkg/futex and pkg/mutex. It does not implement
// a full pthread_cond_t API (construction, attributes, destruction are
// out of scope; see spec section 1).
package cond

import (
	"github.com/aogrcs/futexcond/pkg/mutex"
	"github.com/aogrcs/futexcond/pkg/ssdlock"
)

// waiterState is the per-node state machine described in spec section 4.2.
type waiterState int32

const (
	// waiting is the initial state: the node is linked into the cv's
	// list and blocked on its futex word.
	waiting waiterState = iota
	// signaled means a signaler CAS'd the node out of waiting and owns
	// its removal from the cv list; the node is no longer on the list.
	signaled
	// leaving means the waiter itself is unlinking after a timeout or
	// cancellation; terminal for that path.
	leaving
)

// waiter has automatic storage on the waiting goroutine's stack frame (in
// the sense that nothing but the protocol below keeps it alive once
// TimedWait returns); other goroutines reference it only while it is
// linked into cv.head/cv.tail or into a signaler's detached batch.
//
// Synchronization:
//   - While linked into the cv's list: prev, next, and state are
//     protected by the cv's lock.
//   - Once detached into a signaled batch: prev, next, requeued, and
//     notify are protected by mutex (all nodes in one cv's list share a
//     mutex, per the cv's single-mutex-at-a-time contract).
//   - barrier is held from creation (newWaiter acquires it) and released
//     by the signaler once the detached batch is in a consistent, mutex-
//     protected state; the waiter blocks on it to know when that handoff
//     has completed.
type waiter struct {
	prev, next *waiter

	state    int32 // waiterState, also the futex word in the private case
	barrier  ssdlock.Lock
	requeued bool

	// notify, if non-nil, points at a signaler's local quiescence
	// counter; set when that signaler observed this node already
	// leaving and must wait for it to finish unlinking.
	notify *int32

	mutexRet error

	cond   *Cond
	mtx    *mutex.Mutex
	id     mutex.ThreadID
	shared bool
}

func newWaiter(c *Cond, m *mutex.Mutex, id mutex.ThreadID) *waiter {
	w := &waiter{cond: c, mtx: m, id: id, shared: c.shared}
	// The barrier starts locked: nothing may observe this node under
	// mutex protection until a signaler explicitly releases it. No
	// goroutine but this one can see w yet, so the acquire is
	// uncontended by construction.
	w.barrier.Acquire()
	return w
}
