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

//go:build linux

// Package futex wraps the Linux SYS_FUTEX syscall directly, the way
// gVisor's pkg/flipcall and pkg/sentry/platform/systrap/sysmsg call it: no
// intermediate in-process bucket table, because the real kernel already
// maintains one. This package is the "atomic primitives layer" and
// "platform wait/wake/requeue" collaborator described in the condition
// variable core design.
package futex

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex operation codes, from <linux/futex.h>. Only the subset the
// condition variable core and mutex need are declared.
const (
	opWait      = 0
	opWake      = 1
	opRequeue   = 3
	flagPrivate = 128
)

// ErrCrossPrivacy is returned by Requeue when the kernel refuses to requeue
// waiters between a private futex and a process-shared one (EINVAL on a
// FUTEX_REQUEUE with mismatched private flags). Callers fall back to a
// plain Wake, per spec section 4.5.
var ErrCrossPrivacy = errors.New("futex: cannot requeue across private/shared boundary")

func privateFlag(private bool) uintptr {
	if private {
		return flagPrivate
	}
	return 0
}

// Wait blocks the calling OS thread while *addr == expected, waking when
// woken, when timeout elapses, or spuriously. A nil timeout blocks forever.
// Returns unix.EAGAIN immediately if *addr != expected at the time the
// kernel checks it (this is the atomic compare the wait/wake protocol
// relies on to avoid the lost-wakeup race).
func Wait(addr *int32, expected int32, timeout *unix.Timespec, private bool) error {
	op := uintptr(opWait) | privateFlag(private)
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), op, uintptr(uint32(expected)),
		uintptr(unsafe.Pointer(timeout)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Wake wakes up to n waiters blocked on addr, returning the number woken.
func Wake(addr *int32, n int32, private bool) (int, error) {
	op := uintptr(opWake) | privateFlag(private)
	r1, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), op, uintptr(uint32(n)), 0, 0, 0)
	if errno != 0 {
		return int(r1), errno
	}
	return int(r1), nil
}

// Requeue wakes up to nwake waiters on addr and moves up to nreq of the
// remaining waiters to block on target instead, without waking them. It
// returns the total number of waiters woken or requeued. If the kernel
// rejects the requeue because addr
// and target straddle the private/shared boundary, ErrCrossPrivacy is
// returned and the caller should fall back to Wake.
func Requeue(addr, target *int32, nwake, nreq int32, private bool) (int, error) {
	op := uintptr(opRequeue) | privateFlag(private)
	r1, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), op, uintptr(uint32(nwake)),
		uintptr(uint32(nreq)), uintptr(unsafe.Pointer(target)), 0)
	if errno == unix.EINVAL {
		return int(r1), ErrCrossPrivacy
	}
	if errno != 0 {
		return int(r1), errno
	}
	return int(r1), nil
}
