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

// broadcastCmd exercises the "broadcast wakes every attached waiter"
// property with a single call.
type broadcastCmd struct {
	waiters int
	shared  bool
}

func (*broadcastCmd) Name() string     { return "broadcast" }
func (*broadcastCmd) Synopsis() string { return "attach N waiters, verify one Broadcast wakes all of them" }
func (*broadcastCmd) Usage() string {
	return "broadcast [-waiters N] [-shared]: attach N waiters, call Broadcast once, time how long draining them takes.\n"
}

func (c *broadcastCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.waiters, "waiters", 16, "number of waiters to attach")
	f.BoolVar(&c.shared, "shared", false, "use process-shared semantics instead of private")
}

func (c *broadcastCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	m := mutex.New(mutex.Normal)
	cv := cond.New(c.shared, cancel.Monotonic)

	dones := make([]chan error, c.waiters)
	for i := range dones {
		dones[i] = attach(cv, m, mutex.ThreadID(i+1), nil)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := cond.Broadcast(cv); err != nil {
		fmt.Printf("Broadcast: %v\n", err)
		return subcommands.ExitFailure
	}

	woken := 0
	for i, done := range dones {
		select {
		case err := <-done:
			if err != nil {
				fmt.Printf("waiter %d returned error: %v\n", i, err)
				return subcommands.ExitFailure
			}
			woken++
		case <-time.After(5 * time.Second):
			fmt.Printf("FAIL: waiter %d never woke\n", i)
			return subcommands.ExitFailure
		}
	}
	elapsed := time.Since(start)

	if woken != c.waiters {
		fmt.Printf("FAIL: broadcast woke %d/%d waiters\n", woken, c.waiters)
		return subcommands.ExitFailure
	}
	fmt.Printf("OK: %d waiters drained in %s\n", c.waiters, elapsed)
	return subcommands.ExitSuccess
}
