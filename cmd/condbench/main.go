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

// Command condbench exercises the condition variable core's testable
// properties against real goroutines and real kernel futex syscalls,
// in the spirit of runsc's cmd/<name> layout: one subcommands.Command
// per scenario, dispatched through github.com/google/subcommands.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&signalCmd{}, "")
	subcommands.Register(&broadcastCmd{}, "")
	subcommands.Register(&timeoutCmd{}, "")
	subcommands.Register(&cancelRaceCmd{}, "")
	subcommands.Register(&requeueCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
