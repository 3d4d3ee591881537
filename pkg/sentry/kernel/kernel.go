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

// Package kernel ties the shared counter, the worker pools that mutate it, and
// the device that reports it into one process-wide object.
//
// Lock order (outermost locks must be taken first):
//
// Kernel.gate
//
//	chardev.Device.mu
//	  chardev.Device.ioMu
//	    counter.Counter.mu
package kernel

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"gvisor.dev/kcounter/pkg/counter"
	"gvisor.dev/kcounter/pkg/errors/linuxerr"
	"gvisor.dev/kcounter/pkg/kthread"
	"gvisor.dev/kcounter/pkg/log"
	"gvisor.dev/kcounter/pkg/sentry/devices/chardev"
	"gvisor.dev/kcounter/pkg/sync"
)

// Kernel owns all state shared between pools and device sessions.
type Kernel struct {
	// Counter is the shared counter. It is immutable after Init.
	Counter *counter.Counter

	// Device reports Counter. It is immutable after Init.
	Device *chardev.Device

	// threads bounds the number of workers running across all pools.
	threads *semaphore.Weighted

	maxThreads int64

	// gate is entered by every running pool and closed by Shutdown.
	gate sync.Gate

	shutdownOnce sync.Once
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// MaxThreads is the number of workers that may run at once across all
	// pools. A pool that needs more fails to spawn.
	MaxThreads int64

	// Workers and Iterations size the pool run by Init. If Workers is 0, Init
	// runs no pool.
	Workers    int
	Iterations int
}

// Init initializes a Kernel with no running pools, then runs the initial
// pool described by args.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.MaxThreads <= 0 {
		return fmt.Errorf("MaxThreads is %d", args.MaxThreads)
	}
	if args.Workers < 0 || args.Iterations < 0 {
		return fmt.Errorf("invalid initial pool %d x %d", args.Workers, args.Iterations)
	}

	k.Counter = &counter.Counter{}
	k.Device = chardev.New(k.Counter)
	k.threads = semaphore.NewWeighted(args.MaxThreads)
	k.maxThreads = args.MaxThreads
	log.Infof("Kernel initialized: max threads %d", args.MaxThreads)

	if args.Workers == 0 {
		return nil
	}
	if err := k.RunPool(args.Workers, args.Iterations); err != nil {
		return fmt.Errorf("running initial pool: %w", err)
	}
	log.Infof("Initial pool finished: %d workers x %d iterations, counter %d", args.Workers, args.Iterations, k.Counter.Snapshot())
	return nil
}

// MaxThreads returns the thread budget set at Init.
func (k *Kernel) MaxThreads() int64 {
	return k.maxThreads
}

// RunPool runs one pool of n workers doing iterations increments each, and
// blocks until it finishes. It fails with ESHUTDOWN after Shutdown.
func (k *Kernel) RunPool(n, iterations int) error {
	return k.runPool("kthread", n, iterations)
}

func (k *Kernel) runPool(name string, n, iterations int) error {
	if !k.gate.Enter() {
		return linuxerr.ESHUTDOWN
	}
	defer k.gate.Leave()

	p := kthread.Pool{
		Name:    name,
		Counter: k.Counter,
		Threads: k.threads,
	}
	return p.Run(n, iterations)
}

// RunPools runs pools concurrently against the shared counter and returns the
// first error reported by any of them.
func (k *Kernel) RunPools(pools, n, iterations int) error {
	var wg sync.WaitGroupErr
	for i := 0; i < pools; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := k.runPool(fmt.Sprintf("kthread-%d", i), n, iterations); err != nil {
				wg.ReportError(fmt.Errorf("pool %d: %w", i, err))
			}
		}(i)
	}
	return wg.Error()
}

// Shutdown stops new pools from starting, waits for running pools to finish,
// and releases any open device session. It may be called more than once.
func (k *Kernel) Shutdown(ctx context.Context) {
	k.shutdownOnce.Do(func() {
		k.gate.Close()
		if k.Device != nil && k.Device.ForceRelease(ctx) {
			log.Warningf("Device session was still open at shutdown")
		}
		if k.Counter != nil {
			log.Infof("Kernel shut down, counter %d", k.Counter.Snapshot())
		}
	})
}

// IsShutdown returns true once Shutdown has been called.
func (k *Kernel) IsShutdown() bool {
	return k.gate.Closed()
}
