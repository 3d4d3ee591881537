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

// Package kthread runs fixed-size pools of workers against a shared counter.
//
// Every worker's state, including its completion signal, is allocated before
// the worker is started, and only started workers are waited on.
package kthread

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"gvisor.dev/kcounter/pkg/counter"
	"gvisor.dev/kcounter/pkg/errors"
	"gvisor.dev/kcounter/pkg/errors/linuxerr"
	"gvisor.dev/kcounter/pkg/log"
	"gvisor.dev/kcounter/pkg/metric"
)

var (
	spawnedWorkers = metric.MustCreateNewUint64Metric("/kthread/spawned", "Number of pool workers started.")
	spawnFailures  = metric.MustCreateNewUint64Metric("/kthread/spawn_failures", "Number of pool runs aborted because a worker could not be started.")
	failedWorkers  = metric.MustCreateNewUint64Metric("/kthread/failed", "Number of pool workers that failed mid-loop.")
)

// running is the number of workers currently inside their loop, across all
// pools.
var running atomic.Int64

func init() {
	metric.MustRegisterCustomUint64Metric("/kthread/running", false, "Number of pool workers currently running.", func(...string) uint64 {
		return uint64(running.Load())
	})
}

// State is the lifecycle state of a Worker.
type State int32

// Worker states.
const (
	Created State = iota
	Running
	Completed
	Failed
	Stopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SpawnError is returned by Pool.Run when a worker could not be started.
// All previously started workers have been stopped when it is returned.
type SpawnError struct {
	// Index is the id of the worker that could not be started.
	Index int
	Err   error
}

// Error implements error.Error.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("creating worker %d: %v", e.Index, e.Err)
}

// Unwrap returns the cause.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// WorkerError reports a worker that failed before finishing its iterations.
type WorkerError struct {
	ID  int
	Err error
}

// Error implements error.Error.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d failed: %v", e.ID, e.Err)
}

// Unwrap returns the cause.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

func init() {
	linuxerr.AddErrorUnwrapper(func(err error) (*errors.Error, bool) {
		switch e := err.(type) {
		case *SpawnError:
			return linuxerr.TranslateError(e.Err)
		case *WorkerError:
			return linuxerr.TranslateError(e.Err)
		}
		return nil, false
	})
}

// Worker is one member of a pool.
type Worker struct {
	id         int
	iterations int
	done       *Completion
	shouldStop atomic.Bool
	state      atomic.Int32

	// err is written by the worker before done fires and read only after.
	err error
}

func newWorker(id, iterations int) *Worker {
	w := &Worker{
		id:         id,
		iterations: iterations,
		done:       NewCompletion(),
	}
	w.state.Store(int32(Created))
	return w
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int {
	return w.id
}

// State returns the worker's current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// ShouldStop returns true once the worker has been asked to stop.
func (w *Worker) ShouldStop() bool {
	return w.shouldStop.Load()
}

// stop asks w to exit and waits for it to fire its completion.
func (w *Worker) stop() {
	w.shouldStop.Store(true)
	w.done.Wait()
}

// run is the worker body. The completion always fires, including when work
// panics.
func (w *Worker) run(work func(w *Worker, iter int) error, release func()) {
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("panic: %v", r)
			w.state.Store(int32(Failed))
		}
		if w.State() == Failed {
			failedWorkers.Increment()
			log.Warningf("Worker %d failed: %v", w.id, w.err)
		}
		release()
		w.done.Complete()
	}()

	running.Add(1)
	defer running.Add(-1)
	w.state.Store(int32(Running))
	for i := 0; i < w.iterations; i++ {
		if w.ShouldStop() {
			w.state.Store(int32(Stopped))
			return
		}
		if err := work(w, i); err != nil {
			w.err = err
			w.state.Store(int32(Failed))
			return
		}
	}
	w.state.Store(int32(Completed))
}

// Pool runs workers against a shared counter.
type Pool struct {
	// Name is used in log messages.
	Name string

	// Counter is incremented by the default work function.
	Counter *counter.Counter

	// Threads bounds the number of workers that may run at once across all
	// pools sharing it. A worker that cannot acquire a slot is a spawn
	// failure. If nil, spawning never fails.
	Threads *semaphore.Weighted

	// Work is called once per iteration. If nil, the worker increments
	// Counter.
	Work func(w *Worker, iter int) error
}

func (p *Pool) name() string {
	if p.Name == "" {
		return "kthread"
	}
	return p.Name
}

// Run starts n workers that each call Work k times and blocks until all of
// them have fired their completion.
//
// If a worker cannot be started, Run stops every worker already started,
// waits for them to exit, and returns a *SpawnError. Otherwise it returns the
// failure of the lowest-numbered failed worker as a *WorkerError, or nil.
func (p *Pool) Run(n, k int) error {
	if n < 0 || k < 0 {
		return linuxerr.EINVAL
	}
	work := p.Work
	if work == nil {
		if p.Counter == nil {
			return linuxerr.EINVAL
		}
		work = func(*Worker, int) error {
			p.Counter.Increment()
			return nil
		}
	}

	workers := make([]*Worker, n)
	for i := range workers {
		workers[i] = newWorker(i, k)
	}

	var barrier Barrier
	for i, w := range workers {
		release := func() {}
		if p.Threads != nil {
			if !p.Threads.TryAcquire(1) {
				spawnFailures.Increment()
				log.Warningf("%s: failed to create worker %d", p.name(), i)
				spawnedWorkers.IncrementBy(uint64(barrier.Len()))
				for _, started := range workers[:i] {
					started.stop()
				}
				return &SpawnError{Index: i, Err: linuxerr.EAGAIN}
			}
			release = func() { p.Threads.Release(1) }
		}
		barrier.Add(w.done)
		go w.run(work, release)
		log.Debugf("%s: created worker %d", p.name(), i)
	}
	spawnedWorkers.IncrementBy(uint64(barrier.Len()))

	log.Debugf("%s: waiting for %d workers", p.name(), barrier.Len())
	barrier.Wait()

	for _, w := range workers {
		if w.State() == Failed {
			return &WorkerError{ID: w.id, Err: w.err}
		}
	}
	return nil
}
