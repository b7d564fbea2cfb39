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

// signalCmd exercises the "signal wakes at most one waiter" property.
type signalCmd struct {
	waiters int
	shared  bool
}

func (*signalCmd) Name() string     { return "signal" }
func (*signalCmd) Synopsis() string { return "signal N waiters, verify each private Signal wakes at most one" }
func (*signalCmd) Usage() string {
	return "signal [-waiters N] [-shared]: attach N waiters and drain them one Signal at a time.\n"
}

func (c *signalCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.waiters, "waiters", 8, "number of waiters to attach")
	f.BoolVar(&c.shared, "shared", false, "use process-shared semantics instead of private")
}

func (c *signalCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	m := mutex.New(mutex.Normal)
	cv := cond.New(c.shared, cancel.Monotonic)

	dones := make([]chan error, c.waiters)
	for i := range dones {
		dones[i] = attach(cv, m, mutex.ThreadID(i+1), nil)
	}
	time.Sleep(20 * time.Millisecond)

	remaining := make(map[int]bool, c.waiters)
	for i := range dones {
		remaining[i] = true
	}
	rounds := 0
	for len(remaining) > 0 && rounds < c.waiters*2 {
		rounds++
		if err := cond.Signal(cv); err != nil {
			fmt.Printf("Signal: %v\n", err)
			return subcommands.ExitFailure
		}
		woken := awaitAny(dones, remaining, time.Second)
		fmt.Printf("round %d: signal woke %d waiter(s), %d remaining\n", rounds, woken, len(remaining))
		if !c.shared && woken > 1 {
			fmt.Printf("FAIL: a single private Signal woke %d waiters, wanted at most 1\n", woken)
			return subcommands.ExitFailure
		}
	}
	if len(remaining) > 0 {
		fmt.Printf("FAIL: %d waiters never woke\n", len(remaining))
		return subcommands.ExitFailure
	}
	fmt.Println("OK")
	return subcommands.ExitSuccess
}

// attach locks m, waits on cv, and reports completion on the returned channel.
func attach(cv *cond.Cond, m *mutex.Mutex, id mutex.ThreadID, deadline *cond.Deadline) chan error {
	done := make(chan error, 1)
	go func() {
		if err := m.Lock(id); err != nil {
			done <- err
			return
		}
		err := cond.TimedWait(context.Background(), cv, m, id, deadline)
		m.Unlock(id)
		done <- err
	}()
	return done
}

// awaitAny drains at least one ready channel among the indices still in
// remaining within timeout, removes it/them from remaining, and returns
// how many fired.
func awaitAny(dones []chan error, remaining map[int]bool, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	woken := 0
	for {
		fired := false
		for i := range dones {
			if !remaining[i] {
				continue
			}
			select {
			case <-dones[i]:
				delete(remaining, i)
				woken++
				fired = true
			default:
			}
		}
		if woken > 0 && !fired {
			return woken
		}
		if time.Now().After(deadline) {
			return woken
		}
		time.Sleep(2 * time.Millisecond)
	}
}
