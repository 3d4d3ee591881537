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

package kernel

import (
	"context"
	"errors"
	"io"
	"testing"

	"gvisor.dev/kcounter/pkg/errors/linuxerr"
	"gvisor.dev/kcounter/pkg/kthread"
	"gvisor.dev/kcounter/pkg/sentry/devices/chardev"
)

func newKernel(t *testing.T, args InitKernelArgs) *Kernel {
	t.Helper()
	k := &Kernel{}
	if err := k.Init(args); err != nil {
		t.Fatalf("Init(%+v): %v", args, err)
	}
	t.Cleanup(func() { k.Shutdown(context.Background()) })
	return k
}

func TestInitRunsInitialPool(t *testing.T) {
	k := newKernel(t, InitKernelArgs{MaxThreads: 8, Workers: 4, Iterations: 5000})
	if got := k.Counter.Snapshot(); got != 20000 {
		t.Errorf("counter = %d, want 20000", got)
	}
	if got := k.MaxThreads(); got != 8 {
		t.Errorf("MaxThreads() = %d, want 8", got)
	}
}

func TestInitInvalidArgs(t *testing.T) {
	for _, args := range []InitKernelArgs{
		{MaxThreads: 0},
		{MaxThreads: 1, Workers: -1},
		{MaxThreads: 1, Workers: 1, Iterations: -1},
	} {
		k := &Kernel{}
		if err := k.Init(args); err == nil {
			t.Errorf("Init(%+v) succeeded, want error", args)
		}
	}
}

func TestInitSpawnFailure(t *testing.T) {
	k := &Kernel{}
	err := k.Init(InitKernelArgs{MaxThreads: 2, Workers: 3, Iterations: 10})
	var se *kthread.SpawnError
	if !errors.As(err, &se) || se.Index != 2 {
		t.Fatalf("Init() = %v, want spawn failure at index 2", err)
	}
	if !linuxerr.Equals(linuxerr.EAGAIN, se.Err) {
		t.Errorf("spawn failure cause = %v, want EAGAIN", se.Err)
	}
}

func TestRunPoolsNoLostUpdates(t *testing.T) {
	k := newKernel(t, InitKernelArgs{MaxThreads: 8})
	if err := k.RunPools(2, 4, 5000); err != nil {
		t.Fatalf("RunPools: %v", err)
	}
	if got := k.Counter.Snapshot(); got != 40000 {
		t.Errorf("counter = %d, want 40000", got)
	}
}

func TestRunPoolsReportsSpawnFailure(t *testing.T) {
	k := newKernel(t, InitKernelArgs{MaxThreads: 1})
	// Each pool needs more threads than the whole budget.
	err := k.RunPools(3, 2, 1)
	var se *kthread.SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("RunPools() = %v, want *SpawnError", err)
	}
}

func TestDeviceReportsCounter(t *testing.T) {
	k := newKernel(t, InitKernelArgs{MaxThreads: 4, Workers: 2, Iterations: 21})
	ctx := context.Background()
	fd, err := k.Device.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fd.Release(ctx)
	got, err := io.ReadAll(chardev.NewReader(ctx, fd))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "42\n" {
		t.Errorf("device read %q, want %q", got, "42\n")
	}
}

func TestShutdown(t *testing.T) {
	k := newKernel(t, InitKernelArgs{MaxThreads: 4})
	ctx := context.Background()
	fd, err := k.Device.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	k.Shutdown(ctx)
	k.Shutdown(ctx)
	if !k.IsShutdown() {
		t.Errorf("IsShutdown() = false after Shutdown")
	}
	if k.Device.IsOpen() {
		t.Errorf("device session survived shutdown")
	}
	if err := fd.Release(ctx); !linuxerr.Equals(linuxerr.EBADF, err) {
		t.Errorf("Release after shutdown = %v, want EBADF", err)
	}
	if err := k.RunPool(1, 1); !linuxerr.Equals(linuxerr.ESHUTDOWN, err) {
		t.Errorf("RunPool after shutdown = %v, want ESHUTDOWN", err)
	}
}

func TestShutdownWaitsForRunningPools(t *testing.T) {
	k := newKernel(t, InitKernelArgs{MaxThreads: 4})
	done := make(chan error, 1)
	go func() {
		done <- k.RunPool(4, 100000)
	}()

	k.Shutdown(context.Background())
	atShutdown := k.Counter.Snapshot()

	// Either the pool entered the gate before Shutdown, in which case
	// Shutdown waited for it to finish, or it was refused.
	switch err := <-done; {
	case err == nil:
		if atShutdown != 400000 {
			t.Errorf("counter = %d when Shutdown returned, want 400000", atShutdown)
		}
	case linuxerr.Equals(linuxerr.ESHUTDOWN, err):
		if atShutdown != 0 {
			t.Errorf("counter = %d after refused pool, want 0", atShutdown)
		}
	default:
		t.Fatalf("RunPool: %v", err)
	}
}
