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

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"github.com/aogrcs/futexcond/pkg/cancel"
	"github.com/aogrcs/futexcond/pkg/cond"
	"github.com/aogrcs/futexcond/pkg/mutex"
)

// requeueCmd exercises the distributed requeue handoff in wakePrivate /
// requeueSuccessor: a single Broadcast wakes only one waiter directly,
// the rest are handed from the cv's futex word to the mutex's lock word
// one at a time as each predecessor departs. This checks that the chain
// still enforces mutual exclusion end to end — no two waiters ever
// believe they hold the mutex at once — even though only one of them was
// ever woken by a cv-level futex wake.
type requeueCmd struct {
	waiters int
}

func (*requeueCmd) Name() string { return "requeue" }
func (*requeueCmd) Synopsis() string {
	return "verify distributed requeue handoff preserves mutual exclusion"
}
func (*requeueCmd) Usage() string {
	return "requeue [-waiters N]: attach N waiters, Broadcast once, confirm serialized mutex handoff.\n"
}

func (c *requeueCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.waiters, "waiters", 12, "number of waiters to attach")
}

func (c *requeueCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	m := mutex.New(mutex.Normal)
	cv := cond.New(false, cancel.Monotonic)

	var held bool
	var overlaps int
	var acquired int
	results := make(chan error, c.waiters)

	for i := 0; i < c.waiters; i++ {
		id := mutex.ThreadID(i + 1)
		go func() {
			if err := m.Lock(id); err != nil {
				results <- err
				return
			}
			err := cond.TimedWait(context.Background(), cv, m, id, nil)
			if err == nil {
				if held {
					overlaps++
				}
				held = true
				acquired++
				time.Sleep(time.Millisecond)
				held = false
			}
			m.Unlock(id)
			results <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)

	if err := cond.Broadcast(cv); err != nil {
		fmt.Printf("Broadcast: %v\n", err)
		return subcommands.ExitFailure
	}

	for i := 0; i < c.waiters; i++ {
		select {
		case err := <-results:
			if err != nil {
				fmt.Printf("waiter %d returned error: %v\n", i, err)
				return subcommands.ExitFailure
			}
		case <-time.After(5 * time.Second):
			fmt.Printf("FAIL: only %d/%d waiters completed\n", i, c.waiters)
			return subcommands.ExitFailure
		}
	}

	if overlaps > 0 {
		fmt.Printf("FAIL: observed %d overlapping mutex holders across the requeue chain\n", overlaps)
		return subcommands.ExitFailure
	}
	fmt.Printf("OK: %d waiters serialized through the mutex via requeue, no overlaps\n", acquired)
	return subcommands.ExitSuccess
}
