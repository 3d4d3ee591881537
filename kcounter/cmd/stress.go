// Copyright 2023 The gVisor Authors.
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
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/kcounter/kcounter/config"
	"gvisor.dev/kcounter/pkg/log"
	"gvisor.dev/kcounter/pkg/sentry/devices/chardev"
	"gvisor.dev/kcounter/pkg/sentry/kernel"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	pools   int
	readers int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run concurrent pools while readers contend for the device"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - runs -pools pools of --workers x --iterations concurrently
while -readers goroutines repeatedly open, read, and release the device. Fails
if the final counter is not pools x workers x iterations or if a reader
observes the counter going backwards.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.pools, "pools", 2, "number of concurrent pools.")
	f.IntVar(&s.readers, "readers", 4, "number of concurrent device readers.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := newKernel(conf, 0, 0)
	if err != nil {
		Fatalf("%v", err)
	}
	defer k.Shutdown(ctx)

	res, err := stress(ctx, k, s.pools, s.readers, conf.Workers, conf.Iterations)
	if err != nil {
		Fatalf("%v", err)
	}
	fmt.Fprintf(os.Stdout, "counter %d, %d reads, %d busy opens\n", res.value, res.reads, res.busy)
	return subcommands.ExitSuccess
}

// stressResult summarizes a stress run.
type stressResult struct {
	value uint64
	reads uint64
	busy  uint64
}

// countingBackOff counts retries, each of which follows a busy open.
type countingBackOff struct {
	backoff.BackOff
	retries *atomic.Uint64
}

// NextBackOff implements backoff.BackOff.NextBackOff.
func (b countingBackOff) NextBackOff() time.Duration {
	b.retries.Add(1)
	return b.BackOff.NextBackOff()
}

func stress(ctx context.Context, k *kernel.Kernel, pools, readers, workers, iterations int) (stressResult, error) {
	var (
		res   stressResult
		reads atomic.Uint64
		busy  atomic.Uint64
	)
	poolsDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(poolsDone)
		return k.RunPools(pools, workers, iterations)
	})
	for i := 0; i < readers; i++ {
		g.Go(func() error {
			var last uint64
			for {
				select {
				case <-poolsDone:
					return nil
				case <-gctx.Done():
					return nil
				default:
				}
				b := countingBackOff{
					BackOff: backoff.NewConstantBackOff(50 * time.Microsecond),
					retries: &busy,
				}
				fd, err := chardev.OpenRetry(gctx, k.Device, b)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("opening device: %w", err)
				}
				data, err := io.ReadAll(chardev.NewReader(gctx, fd))
				if relErr := fd.Release(gctx); relErr != nil && err == nil {
					err = relErr
				}
				if err != nil {
					return fmt.Errorf("reading device: %w", err)
				}
				v, err := strconv.ParseUint(strings.TrimSuffix(string(data), "\n"), 10, 64)
				if err != nil {
					return fmt.Errorf("parsing device output %q: %w", data, err)
				}
				if v < last {
					return fmt.Errorf("counter went backwards from %d to %d", last, v)
				}
				last = v
				reads.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.value = k.Counter.Snapshot()
	res.reads = reads.Load()
	res.busy = busy.Load()
	log.Infof("Stress finished: %+v", res)
	if want := uint64(pools) * uint64(workers) * uint64(iterations); res.value != want {
		return res, fmt.Errorf("counter is %d, want %d", res.value, want)
	}
	return res, nil
}
