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
	"math"

	"github.com/aogrcs/futexcond/pkg/futex"
)

// Broadcast wakes all waiters currently attached to c.
func Broadcast(c *Cond) error { return wake(c, math.MaxInt32) }

// Signal wakes at most one waiter attached to c.
func Signal(c *Cond) error { return wake(c, 1) }

func wake(c *Cond, n int) error {
	if c.shared {
		return wakeShared(c, n)
	}
	return wakePrivate(c, n)
}

// wakeShared implements the process-shared variant of spec section 4.4:
// advance the sequence counter and wake up to n waiters blocked on it
// directly, since there is no in-process list to walk. It does not
// requeue any waiter onto the mutex.
func wakeShared(c *Cond, n int) error {
	futex.Inc(&c.seq)
	nwake := int32(1)
	nreq := int32(n - 1)
	if nreq < 0 {
		nreq = 0
	}
	// The cv holds no reference to the paired mutex in the
	// process-shared case, so there is no requeue target: every
	// signalled waiter is woken directly on c.seq and then contends for
	// the mutex itself.
	_, err := futex.Wake(&c.seq, nwake+nreq, false)
	return err
}

// wakePrivate implements spec section 4.4's private variant: detach up to
// n waiters from the tail (oldest) of c's list, quiesce any that raced
// into leaving, then release their barriers so they may proceed to mutex
// acquisition.
func wakePrivate(c *Cond, n int) error {
	c.lock.Acquire()

	var ref int32
	var q *waiter // head of the detached (signaled) batch, tail->head order
	var p *waiter
	remaining := n
	for p = c.tail; remaining > 0 && p != nil; p = p.prev {
		if !futex.CAS(&p.state, waitingVal, int32(signaled)) {
			// Lost the race to a concurrent self-removal; the waiter
			// is (or is about to be) leaving. Count it so we wait for
			// it to finish unlinking before touching the list further.
			ref++
			p.notify = &ref
			continue
		}
		remaining--
		if q == nil {
			q = p
		}
	}

	// Split the list at p: p becomes the new tail, so p up to the head
	// (the newer, unexamined waiters) stays on the cv; the examined nodes
	// from the original tail up to p.next are detached, with q as the
	// oldest signaled member of that batch.
	if p != nil {
		if p.next != nil {
			p.next.prev = nil
		}
		p.next = nil
	} else {
		c.head = nil
	}
	c.tail = p

	c.lock.Release()

	// Wait for every concurrently-leaving waiter to finish unlinking
	// itself before releasing any barrier: this is the quiescence point
	// that keeps the detached batch's links consistent (spec section
	// 4.4 step 5 / section 5's notify/ref handshake).
	for {
		cur := futex.Load(&ref)
		if cur == 0 {
			break
		}
		futex.Wait(&ref, cur, nil, true)
	}

	// Wake the batch's tail (the oldest signaled waiter) with one direct
	// futex wake; the rest are expected to be moved onto the mutex by
	// the unwait path's distributed requeue as each predecessor departs,
	// concentrating wakeups at mutex-release time. Barriers release in
	// tail-to-head (FIFO) order.
	for cur := q; cur != nil; {
		next := cur.prev
		if cur.next == nil {
			futex.Wake(&cur.state, 1, true)
		}
		cur.barrier.Release()
		cur = next
	}
	return nil
}
