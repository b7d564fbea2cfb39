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
	"github.com/aogrcs/futexcond/pkg/syserr"
)

// timeoutCmd exercises TimedWait's deadline path: an un-signalled waiter
// must return ErrTimedOut once its deadline elapses, and the caller must
// hold the mutex again afterward.
type timeoutCmd struct {
	wait time.Duration
}

func (*timeoutCmd) Name() string     { return "timeout" }
func (*timeoutCmd) Synopsis() string { return "verify TimedWait returns ErrTimedOut and re-grants the mutex" }
func (*timeoutCmd) Usage() string {
	return "timeout [-wait DURATION]: wait with a short deadline and nobody ever signalling.\n"
}

func (c *timeoutCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.wait, "wait", 50*time.Millisecond, "deadline duration to wait for")
}

func (c *timeoutCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	m := mutex.New(mutex.Normal)
	cv := cond.New(false, cancel.Monotonic)
	const id = mutex.ThreadID(1)

	if err := m.Lock(id); err != nil {
		fmt.Printf("Lock: %v\n", err)
		return subcommands.ExitFailure
	}

	start := time.Now()
	deadline := &cond.Deadline{At: start.Add(c.wait)}
	err := cond.TimedWait(context.Background(), cv, m, id, deadline)
	elapsed := time.Since(start)

	if err != syserr.ErrTimedOut {
		fmt.Printf("FAIL: TimedWait returned %v, wanted ErrTimedOut\n", err)
		return subcommands.ExitFailure
	}
	if err := m.CheckOwner(id); err != nil {
		fmt.Printf("FAIL: mutex not held by caller after timeout: %v\n", err)
		return subcommands.ExitFailure
	}
	m.Unlock(id)
	fmt.Printf("OK: timed out after %s (requested %s)\n", elapsed, c.wait)
	return subcommands.ExitSuccess
}
