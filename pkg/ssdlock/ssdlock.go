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

// Package ssdlock implements the self-synchronized-destruction spin/futex
// lock used internally by a condition variable and by each waiter's
// barrier. The defining property is that Release never touches the lock
// word again after its single atomic swap: the object the word lives in
// may be destroyed by another goroutine the instant that swap is visible.
// Only the subsequent Wake call is still permitted, and only because its
// target address was captured before the swap.
package ssdlock

import "github.com/aogrcs/futexcond/pkg/futex"

// Lock states.
const (
	free            = 0
	heldUncontended = 1
	heldContended   = 2
)

// Lock is a two-bit spin/futex lock word. The zero value is unlocked.
type Lock struct {
	word int32
}

// Word exposes the raw futex word, e.g. so a waiter's barrier address can
// be captured before a signaler releases it.
func (l *Lock) Word() *int32 { return &l.word }

// Acquire blocks until the lock is held by the calling goroutine.
func (l *Lock) Acquire() {
	if !futex.CAS(&l.word, free, heldUncontended) {
		acquireSlow(l)
	}
}

func acquireSlow(l *Lock) {
	// Force the contended bit even if the current holder is about to
	// release, so that its Release wakes us rather than leaving us
	// blocked on a stale expected value.
	futex.CAS(&l.word, heldUncontended, heldContended)
	for {
		futex.Wait(&l.word, heldContended, nil, true)
		if futex.CAS(&l.word, free, heldContended) {
			return
		}
	}
}

// Release unlocks l. It performs exactly one atomic swap and nothing else
// that touches the lock word — the SSD-safety property. The address
// passed to the wake, if any, must remain valid only for the duration of
// that single call; the lock itself may already be gone by the time
// Release returns.
func (l *Lock) Release() {
	addr := &l.word
	if futex.Swap(addr, free) == heldContended {
		futex.Wake(addr, 1, true)
	}
}
