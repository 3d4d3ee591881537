// Copyright 2026 The gVisor Authors.
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

package counter

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestZeroValue(t *testing.T) {
	var c Counter
	if got := c.Snapshot(); got != 0 {
		t.Fatalf("Snapshot() = %d, want 0", got)
	}
	c.Increment()
	if got := c.Snapshot(); got != 1 {
		t.Fatalf("Snapshot() = %d, want 1", got)
	}
}

func TestConcurrentIncrement(t *testing.T) {
	const (
		goroutines = 16
		iterations = 2000
	)
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()
	if got, want := c.Snapshot(), uint64(goroutines*iterations); got != want {
		t.Errorf("Snapshot() = %d, want %d", got, want)
	}
}

// TestSnapshotNeverRegresses checks that successive snapshots taken while
// writers are running are monotonic.
func TestSnapshotNeverRegresses(t *testing.T) {
	var c Counter
	var stop atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				c.Increment()
			}
		}()
	}
	last := c.Snapshot()
	for i := 0; i < 10000; i++ {
		cur := c.Snapshot()
		if cur < last {
			stop.Store(true)
			wg.Wait()
			t.Fatalf("snapshot regressed from %d to %d", last, cur)
		}
		last = cur
	}
	stop.Store(true)
	wg.Wait()
}
