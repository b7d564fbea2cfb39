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
	"github.com/aogrcs/futexcond/pkg/futex"
	"github.com/aogrcs/futexcond/pkg/syserr"
)

// deadlockWord is a lock word that is never released, used to
// deliberately wedge a goroutine rather than let it corrupt a detached
// list it can no longer safely access (spec section 4.5 step 3 / section
// 7: any mutex-acquisition failure other than EOWNERDEAD is treated as
// unrecoverable).
var deadlockWord int32 = 1

// unwait is the single cleanup routine that runs exactly once per wait,
// either as the normal-return tail of TimedWait or as the cancellation
// hook (spec section 9: "Do not split it into two implementations").
// It is idempotent only in the sense that TimedWait guarantees it runs
// exactly once per node; it must not be called twice concurrently for the
// same node.
func unwait(node *waiter) {
	if node.shared {
		unwaitShared(node)
		return
	}
	unwaitPrivate(node)
}

func unwaitShared(node *waiter) {
	c, m := node.cond, node.mtx
	if futex.FetchAdd(&c.waiters, -1) == destroyPending {
		futex.Wake(&c.waiters, 1, false)
	}
	// musl relies on pthread_cancel's signal delivery to interrupt a
	// blocked futex syscall; context.Context cancellation has no such
	// out-of-band interrupt, so unwait must itself wake the shared
	// sequence word to unblock a concurrently-running waitLoop.
	futex.Wake(&c.seq, 1, false)
	node.mutexRet = m.Lock(node.id)
}

func unwaitPrivate(node *waiter) {
	oldState := casState(node)

	if oldState == waiting {
		// node was not yet signaled: it's still linked into c's list
		// and must remove itself. Access to the cv is valid because a
		// concurrent signal/broadcast cannot have returned after
		// observing a leaving waiter without first being notified via
		// the futex below.
		c := node.cond
		c.lock.Acquire()
		if c.head == node {
			c.head = node.next
		} else if node.prev != nil {
			node.prev.next = node.next
		}
		if c.tail == node {
			c.tail = node.prev
		} else if node.next != nil {
			node.next.prev = node.prev
		}
		c.lock.Release()

		if node.notify != nil {
			if futex.FetchAdd(node.notify, -1) == 1 {
				futex.Wake(node.notify, 1, true)
			}
		}
	}

	node.mutexRet = node.mtx.Lock(node.id)

	if oldState == waiting {
		return
	}

	// If the mutex can't be locked, that mutex is all that protects the
	// detached list's invariants; rather than risk corrupting another
	// waiter's stack, wedge this goroutine forever.
	if node.mutexRet != nil && !syserr.Is(node.mutexRet, syserr.ErrOwnerDied) {
		deadlock()
	}

	// Wait until the signaler has finished handing control of the list
	// over from the cv lock to the mutex.
	node.barrier.Acquire()

	if node.requeued {
		futex.Dec(node.mtx.Waiters())
	}

	requeueSuccessor(node)

	// Remove this node from the batch.
	if node.next != nil {
		node.next.prev = node.prev
	}
	if node.prev != nil {
		node.prev.next = node.next
	}
}

// requeueSuccessor hands off one further waiter to the mutex on this
// node's way out: walk to the batch's tail (the oldest member, via next),
// then back past any nodes already requeued (via prev), and requeue the
// first not-yet-requeued candidate. This distributes the cost of the
// batch's requeue across each departing waiter instead of requiring the
// signaler to requeue the whole batch atomically.
func requeueSuccessor(node *waiter) {
	p := node
	for p.next != nil {
		p = p.next
	}
	if p == node {
		p = node.prev
	}
	for p != nil && p.requeued {
		p = p.prev
	}
	if p == node {
		p = node.prev
	}
	if p == nil {
		return
	}
	p.requeued = true
	futex.Inc(node.mtx.Waiters())

	nwake := int32(0)
	if node.mtx.Shared() {
		nwake = 1
	}
	// &p.state is always parked non-shared here (requeueSuccessor only
	// runs on the private-cv path); the requeue's private flag must match
	// that park privacy, not the mutex's, or the kernel can't find the
	// waiter to move. See waitLoop's park and casState's wake, which use
	// the same !node.shared convention on this word.
	_, err := futex.Requeue(&p.state, node.mtx.LockWord(), nwake, 1, !node.shared)
	if err == futex.ErrCrossPrivacy {
		futex.Wake(&p.state, 1, true)
	}
}

func casState(node *waiter) waiterState {
	if futex.CAS(&node.state, int32(waiting), int32(leaving)) {
		// See unwaitShared: wake the node's own futex word so a
		// concurrently-blocked waitLoop observes the state change
		// instead of sleeping until the deadline.
		futex.Wake(&node.state, 1, true)
		return waiting
	}
	return waiterState(futex.Load(&node.state))
}

func deadlock() {
	l := &deadlockWord
	for {
		futex.Wait(l, 1, nil, true)
	}
}
