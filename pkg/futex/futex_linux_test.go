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

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func kind(private bool) string {
	if private {
		return "private"
	}
	return "shared"
}

func TestWaitWakeOne(t *testing.T) {
	for _, private := range []bool{false, true} {
		t.Run(kind(private), func(t *testing.T) {
			var word int32
			woke := make(chan error, 1)
			go func() {
				woke <- Wait(&word, 0, nil, private)
			}()

			// Give the waiter a chance to actually enter the syscall.
			time.Sleep(20 * time.Millisecond)

			Store(&word, 1)
			n, err := Wake(&word, 1, private)
			if err != nil {
				t.Fatalf("Wake: %v", err)
			}
			if n != 1 {
				t.Fatalf("Wake: got %d woken, wanted 1", n)
			}

			select {
			case err := <-woke:
				if err != nil {
					t.Fatalf("Wait returned error: %v", err)
				}
			case <-time.After(time.Second):
				t.Fatal("waiter was not woken")
			}
		})
	}
}

func TestWaitValueMismatchReturnsImmediately(t *testing.T) {
	var word int32 = 5
	err := Wait(&word, 0, nil, true)
	if err != unix.EAGAIN {
		t.Fatalf("Wait with mismatched expected value: got %v, wanted EAGAIN", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	var word int32
	ts := unix.NsecToTimespec((10 * time.Millisecond).Nanoseconds())
	err := Wait(&word, 0, &ts, true)
	if err != unix.ETIMEDOUT {
		t.Fatalf("Wait past deadline: got %v, wanted ETIMEDOUT", err)
	}
}

func TestWakeNoWaitersReturnsZero(t *testing.T) {
	var word int32
	n, err := Wake(&word, 1, true)
	if err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if n != 0 {
		t.Fatalf("Wake with no waiters: got %d, wanted 0", n)
	}
}

func TestRequeueMovesWaiterToTarget(t *testing.T) {
	var from, to int32
	woke := make(chan error, 1)
	go func() {
		woke <- Wait(&from, 0, nil, true)
	}()
	time.Sleep(20 * time.Millisecond)

	n, err := Requeue(&from, &to, 0, 1, true)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("Requeue: got %d requeued, wanted 1", n)
	}

	// The waiter must now be asleep on &to, not &from: waking &from must
	// not reach it, but waking &to must.
	if n, _ := Wake(&from, 1, true); n != 0 {
		t.Fatalf("Wake(from) after requeue: got %d, wanted 0", n)
	}
	if n, err := Wake(&to, 1, true); err != nil || n != 1 {
		t.Fatalf("Wake(to) after requeue: got (%d, %v), wanted (1, nil)", n, err)
	}

	select {
	case err := <-woke:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("requeued waiter was not woken")
	}
}

func TestAtomicPrimitives(t *testing.T) {
	var word int32
	if !CAS(&word, 0, 1) {
		t.Fatal("CAS(0, 1) on zero value should succeed")
	}
	if CAS(&word, 0, 2) {
		t.Fatal("CAS(0, 2) should fail once word is 1")
	}
	if old := Swap(&word, 5); old != 1 {
		t.Fatalf("Swap: got old %d, wanted 1", old)
	}
	if v := Add(&word, 3); v != 8 {
		t.Fatalf("Add: got %d, wanted 8", v)
	}
	if old := FetchAdd(&word, -8); old != 8 {
		t.Fatalf("FetchAdd: got old %d, wanted 8", old)
	}
	Inc(&word)
	Inc(&word)
	Dec(&word)
	if v := Load(&word); v != 1 {
		t.Fatalf("Load after Inc/Inc/Dec: got %d, wanted 1", v)
	}
}
