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

package cancel

import (
	"context"
	"testing"
	"time"
)

func TestTestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if err := TestCanceled(ctx); err != nil {
		t.Fatalf("TestCanceled on live context: %v", err)
	}
	cancel()
	if err := TestCanceled(ctx); err != ErrCanceled {
		t.Fatalf("TestCanceled on canceled context: got %v, wanted ErrCanceled", err)
	}
}

func TestRunOnCancelFiresOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{})
	stop := RunOnCancel(ctx, func() { close(fired) })
	defer stop()

	cancel()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not fire after cancellation")
	}
}

func TestStopPreventsCleanupOnNormalReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran bool
	stop := RunOnCancel(ctx, func() { ran = true })
	if !stop() {
		t.Fatal("stop() returned false though cleanup had not yet run")
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("cleanup ran after being disarmed by stop()")
	}
}

func TestStopBlocksUntilConcurrentCleanupFinishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan struct{})
	stop := RunOnCancel(ctx, func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
	})

	cancel()
	<-started

	if stop() {
		t.Fatal("stop() reported it prevented cleanup, but cleanup had already started")
	}
	select {
	case <-finished:
	default:
		t.Fatal("stop() returned before the already-running cleanup finished")
	}
}
