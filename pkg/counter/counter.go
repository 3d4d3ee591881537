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

// Package counter provides the mutex-protected counter shared by kernel
// threads and the character device.
package counter

import (
	"gvisor.dev/kcounter/pkg/sync"
)

// Counter is an unsigned integer that is only observed or mutated with mu
// held. The zero value is a counter at 0, ready for use.
type Counter struct {
	mu sync.Mutex

	// +checklocks:mu
	value uint64
}

// Increment adds one to the counter.
func (c *Counter) Increment() {
	c.mu.Lock()
	c.value++
	c.mu.Unlock()
}

// Snapshot returns a value the counter held at some instant during the call.
func (c *Counter) Snapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
