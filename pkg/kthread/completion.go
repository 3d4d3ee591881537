// Copyright 2024 The gVisor Authors.
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

package kthread

import (
	"sync/atomic"
)

// Completion is a one-shot signal. It is fired exactly once by its owner and
// may be waited on by any number of goroutines.
//
// The zero value is not usable; use NewCompletion.
type Completion struct {
	fired atomic.Bool
	done  chan struct{}
}

// NewCompletion returns an unfired Completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Complete fires c. It panics if c was already fired.
func (c *Completion) Complete() {
	if !c.fired.CompareAndSwap(false, true) {
		panic("kthread: Completion fired twice")
	}
	close(c.done)
}

// Wait blocks until c is fired.
func (c *Completion) Wait() {
	<-c.done
}

// Done returns a channel that is closed when c is fired.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Completed returns true if c has been fired.
func (c *Completion) Completed() bool {
	return c.fired.Load()
}

// Barrier is an ordered set of completions. Wait returns once every member
// has fired.
//
// Only completions whose owner is guaranteed to fire them may be added.
type Barrier struct {
	members []*Completion
}

// Add appends c to the barrier.
func (b *Barrier) Add(c *Completion) {
	b.members = append(b.members, c)
}

// Len returns the number of members.
func (b *Barrier) Len() int {
	return len(b.members)
}

// Wait waits on each member in order.
func (b *Barrier) Wait() {
	for _, c := range b.members {
		c.Wait()
	}
}
