// Copyright 2019 The gVisor Authors.
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

// Package sync provides synchronization primitives.
//
// +checkalignedignore
package sync

import (
	"sync"
)

// Mutex is a blocking mutual exclusion lock. It is never held across a
// blocking wait by the code in this module.
type Mutex struct {
	m sync.Mutex
}

// Lock locks m.
// +checklocksignore
func (m *Mutex) Lock() {
	m.m.Lock()
}

// Unlock unlocks m.
//
// Preconditions: m is locked.
// +checklocksignore
func (m *Mutex) Unlock() {
	m.m.Unlock()
}

// TryLock tries to acquire the mutex. It returns true if it succeeds and
// false otherwise.
// +checklocksignore
func (m *Mutex) TryLock() bool {
	return m.m.TryLock()
}
