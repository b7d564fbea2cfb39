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

// cancelRaceCmd races a context cancellation against a concurrent
// Broadcast targeting the same waiter, repeated over many rounds, looking
// for a lost wakeup on the bystander waiter that never gets canceled.
type cancelRaceCmd struct {
	rounds int
	shared bool
}

func (*cancelRaceCmd) Name() string { return "cancel-race" }
func (*cancelRaceCmd) Synopsis() string {
	return "race context cancellation against Broadcast, looking for a lost wakeup"
}
func (*cancelRaceCmd) Usage() string {
	return "cancel-race [-rounds N] [-shared]: repeat the cancel/broadcast race N times.\n"
}

func (c *cancelRaceCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.rounds, "rounds", 2000, "number of rounds to race")
	f.BoolVar(&c.shared, "shared", false, "use process-shared semantics instead of private")
}

func (c *cancelRaceCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	for round := 0; round < c.rounds; round++ {
		m := mutex.New(mutex.Normal)
		cv := cond.New(c.shared, cancel.Monotonic)

		ctx, cancelFn := context.WithCancel(context.Background())
		canceledCtxDone := attachCtx(cv, m, mutex.ThreadID(1), ctx)
		bystander := attach(cv, m, mutex.ThreadID(2), nil)

		time.Sleep(time.Millisecond)
		go cancelFn()
		go func() { _ = cond.Broadcast(cv) }()

		select {
		case <-canceledCtxDone:
		case <-time.After(2 * time.Second):
			fmt.Printf("FAIL round %d: canceled waiter never returned\n", round)
			return subcommands.ExitFailure
		}
		select {
		case err := <-bystander:
			if err != nil {
				fmt.Printf("FAIL round %d: bystander returned error: %v\n", round, err)
				return subcommands.ExitFailure
			}
		case <-time.After(2 * time.Second):
			fmt.Printf("FAIL round %d: bystander lost its wakeup\n", round)
			return subcommands.ExitFailure
		}
	}
	fmt.Printf("OK: %d rounds, no lost wakeups\n", c.rounds)
	return subcommands.ExitSuccess
}

// attachCtx is like attach but lets the caller supply ctx instead of
// context.Background().
func attachCtx(cv *cond.Cond, m *mutex.Mutex, id mutex.ThreadID, ctx context.Context) chan error {
	done := make(chan error, 1)
	go func() {
		if err := m.Lock(id); err != nil {
			done <- err
			return
		}
		err := cond.TimedWait(ctx, cv, m, id, nil)
		m.Unlock(id)
		done <- err
	}()
	return done
}
