// Copyright 2018 The gVisor Authors.
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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/kcounter/kcounter/config"
	"gvisor.dev/kcounter/pkg/cleanup"
	"gvisor.dev/kcounter/pkg/log"
)

// lockFile is the name of the instance lock inside the root directory.
const lockFile = "kcounter.lock"

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// wait keeps the command running until it is signaled.
	wait bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "initialize the kernel, run the startup pool, and print the counter"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - runs --workers workers doing --iterations increments each and prints
the counter as read from the device. With --wait or --metric-server, keeps
running until SIGINT or SIGTERM.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.wait, "wait", false, "keep running until SIGINT or SIGTERM.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if err := os.MkdirAll(conf.RootDir, 0711); err != nil {
		Fatalf("creating root directory %q: %v", conf.RootDir, err)
	}
	lock := flock.New(filepath.Join(conf.RootDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		Fatalf("locking %q: %v", lock.Path(), err)
	}
	if !locked {
		Fatalf("another instance is running with root directory %q", conf.RootDir)
	}
	cu := cleanup.Make(func() { lock.Unlock() })
	defer cu.Clean()

	k, err := newKernel(conf, conf.Workers, conf.Iterations)
	if err != nil {
		Fatalf("%v", err)
	}
	cu.Add(func() { k.Shutdown(ctx) })

	out, err := readDevice(ctx, k.Device, 0)
	if err != nil {
		Fatalf("reading device: %v", err)
	}
	fmt.Fprint(os.Stdout, out)

	if !r.wait && conf.MetricServer == "" {
		return subcommands.ExitSuccess
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	if conf.MetricServer != "" {
		errCh := make(chan error, 1)
		go func() {
			errCh <- serveMetrics(ctx, conf.MetricServer, k)
		}()
		select {
		case err := <-errCh:
			if err != nil {
				Fatalf("metric server: %v", err)
			}
		case <-ctx.Done():
			<-errCh
		}
	} else {
		<-ctx.Done()
	}
	log.Infof("Received signal, shutting down")
	return subcommands.ExitSuccess
}
