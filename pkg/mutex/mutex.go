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

// Package mutex provides the external mutex collaborator consumed (not
// redesigned) by pkg/cond: lock/unlock, owner tracking for error-checking
// mutexes, a waiter counter the condition variable's unwait path mutates
// directly, and a futex-compatible lock word condition-variable requeue
// can target. It follows the three-state futex mutex design documented in
// other_examples/6z7-go__lock_futex.go (unlocked / locked-uncontended /
// locked-contended, called "sleeping" there).
package mutex

import (
	"sync/atomic"

	"github.com/aogrcs/futexcond/pkg/futex"
	"github.com/aogrcs/futexcond/pkg/syserr"
)

// ThreadID is an opaque, caller-supplied identity token. Go has no portable
// equivalent of gettid(), so callers of an error-checking or recursive
// mutex supply their own stable per-thread identity (for example, the
// address of a goroutine-local sentinel) in place of musl's tid.
type ThreadID uintptr

// Type is a bitmask describing mutex semantics, mirroring musl's _m_type.
type Type uint32

// Normal mutexes do not track ownership or detect recursion/errors.
const Normal Type = 0

const (
	// ErrorCheck mutexes reject Unlock by a non-owner and reject
	// TimedWait by a non-owner (the PERMISSION_DENIED case in spec
	// section 4.3 step 1).
	ErrorCheck Type = 1 << iota
	// Recursive mutexes may be locked repeatedly by their owner.
	Recursive
	// Shared marks a process-shared mutex; it determines whether a
	// condition variable's requeue handoff may target this mutex's lock
	// word directly (spec section 4.5's "wake = m_type & shared" check).
	Shared
	// Robust mutexes report ErrOwnerDied instead of succeeding silently
	// when a previous owner terminated while holding the lock.
	Robust
)

const (
	free            = 0
	heldUncontended = 1
	heldContended   = 2
)

// Mutex is the external mutex collaborator. The zero value is a usable,
// unlocked Normal mutex.
type Mutex struct {
	lockWord  int32
	waiters   int32
	typ       Type
	owner     ThreadID
	recCount  int32
	ownerDied int32 // atomic bool; set by MarkOwnerDead, consumed once by Lock
}

// New returns a Mutex of the given type.
func New(typ Type) *Mutex {
	return &Mutex{typ: typ}
}

// LockWord exposes the raw futex word backing this mutex, used by
// pkg/cond's unwait path as the requeue target.
func (m *Mutex) LockWord() *int32 { return &m.lockWord }

// Waiters returns a pointer to the atomic waiter counter the condition
// variable's unwait path increments/decrements directly, without taking
// any lock, when it hands a waiter off via kernel requeue.
func (m *Mutex) Waiters() *int32 { return &m.waiters }

// Shared reports whether this is a process-shared mutex.
func (m *Mutex) Shared() bool { return m.typ&Shared != 0 }

// tracksOwner reports whether Owner()/ownership checks are meaningful.
func (m *Mutex) tracksOwner() bool { return m.typ&(ErrorCheck|Recursive) != 0 }

// Owner returns the current owner's identity. Only meaningful if the
// mutex type tracks ownership.
func (m *Mutex) Owner() ThreadID { return ThreadID(atomic.LoadUintptr((*uintptr)(&m.owner))) }

func (m *Mutex) setOwner(id ThreadID) {
	atomic.StoreUintptr((*uintptr)(&m.owner), uintptr(id))
}

// MarkOwnerDead records that the previous owner of a Robust mutex
// terminated while holding it. The next successful Lock reports
// syserr.ErrOwnerDied exactly once, per spec section 7, then clears the
// condition. Detecting thread death itself is outside this package's
// scope; it is consumed from whatever process-monitoring collaborator
// the caller wires up.
func (m *Mutex) MarkOwnerDead() {
	if m.typ&Robust != 0 {
		atomic.StoreInt32(&m.ownerDied, 1)
	}
}

// Lock acquires m on behalf of id, blocking until available.
func (m *Mutex) Lock(id ThreadID) error {
	if m.typ&Recursive != 0 && m.tracksOwner() && m.Owner() == id && m.recCount > 0 {
		m.recCount++
		return nil
	}
	if !futex.CAS(&m.lockWord, free, heldUncontended) {
		lockSlow(m)
	}
	m.setOwner(id)
	m.recCount = 1
	if m.typ&Robust != 0 && atomic.CompareAndSwapInt32(&m.ownerDied, 1, 0) {
		return syserr.ErrOwnerDied
	}
	return nil
}

func lockSlow(m *Mutex) {
	wait := int32(heldUncontended)
	for {
		if futex.Swap(&m.lockWord, heldContended) == free {
			return
		}
		wait = heldContended
		futex.Wait(&m.lockWord, wait, nil, !m.Shared())
	}
}

// Unlock releases m. If typ is ErrorCheck and the calling id is not the
// owner, returns syserr.ErrPermissionDenied without releasing anything.
func (m *Mutex) Unlock(id ThreadID) error {
	if m.typ&ErrorCheck != 0 && m.tracksOwner() && m.Owner() != id {
		return syserr.ErrPermissionDenied
	}
	if m.typ&Recursive != 0 {
		m.recCount--
		if m.recCount > 0 {
			return nil
		}
	}
	m.setOwner(0)
	// A waiter that pkg/cond requeued onto lockWord is counted in waiters,
	// not in the lock word's contended state, so it also calls for a wake.
	waiters := futex.Load(&m.waiters)
	if futex.Swap(&m.lockWord, free) == heldContended || waiters > 0 {
		futex.Wake(&m.lockWord, 1, !m.Shared())
	}
	return nil
}

// CheckOwner validates, for ownership-tracking mutex types, that id
// currently owns m. It is the precondition test spec section 4.3 step 1
// describes ("If the mutex is of a type that tracks ownership and the
// calling thread is not the owner, fail with permission error").
func (m *Mutex) CheckOwner(id ThreadID) error {
	if m.tracksOwner() && m.Owner() != id {
		return syserr.ErrPermissionDenied
	}
	return nil
}
