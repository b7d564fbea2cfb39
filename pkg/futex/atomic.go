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

package futex

import "sync/atomic"

// CAS performs a compare-and-swap on a 32-bit aligned word, returning
// whether it succeeded. Named to match the musl a_cas primitive this
// package's callers (pkg/ssdlock, pkg/cond, pkg/mutex) are ported from.
func CAS(addr *int32, old, new int32) bool {
	return atomic.CompareAndSwapInt32(addr, old, new)
}

// Swap atomically stores new into *addr and returns the previous value.
func Swap(addr *int32, new int32) int32 {
	return atomic.SwapInt32(addr, new)
}

// Add atomically adds delta to *addr and returns the new value.
func Add(addr *int32, delta int32) int32 {
	return atomic.AddInt32(addr, delta)
}

// FetchAdd atomically adds delta to *addr and returns the previous value.
func FetchAdd(addr *int32, delta int32) int32 {
	return atomic.AddInt32(addr, delta) - delta
}

// Inc atomically increments *addr and returns the new value.
func Inc(addr *int32) int32 { return Add(addr, 1) }

// Dec atomically decrements *addr and returns the new value.
func Dec(addr *int32) int32 { return Add(addr, -1) }

// Load atomically reads *addr.
func Load(addr *int32) int32 { return atomic.LoadInt32(addr) }

// Store atomically writes val into *addr, matching musl's a_store.
func Store(addr *int32, val int32) { atomic.StoreInt32(addr, val) }
