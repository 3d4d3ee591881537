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
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
	"gvisor.dev/kcounter/pkg/counter"
	"gvisor.dev/kcounter/pkg/errors/linuxerr"
)

func TestCompletion(t *testing.T) {
	c := NewCompletion()
	if c.Completed() {
		t.Fatalf("new completion already fired")
	}
	select {
	case <-c.Done():
		t.Fatalf("Done closed before Complete")
	default:
	}
	c.Complete()
	c.Wait()
	if !c.Completed() {
		t.Errorf("Completed() = false after Complete")
	}
}

func TestCompletionDoubleFirePanics(t *testing.T) {
	c := NewCompletion()
	c.Complete()
	defer func() {
		if recover() == nil {
			t.Errorf("second Complete did not panic")
		}
	}()
	c.Complete()
}

func TestBarrierWaitsForAll(t *testing.T) {
	var b Barrier
	cs := make([]*Completion, 8)
	for i := range cs {
		cs[i] = NewCompletion()
		b.Add(cs[i])
	}
	if got := b.Len(); got != len(cs) {
		t.Fatalf("Len() = %d, want %d", got, len(cs))
	}
	returned := make(chan struct{})
	go func() {
		b.Wait()
		close(returned)
	}()
	// Fire in reverse order; Wait must still return only after the last.
	for i := len(cs) - 1; i > 0; i-- {
		cs[i].Complete()
	}
	select {
	case <-returned:
		t.Fatalf("Wait returned with a member unfired")
	case <-time.After(10 * time.Millisecond):
	}
	cs[0].Complete()
	<-returned
}

func TestPoolCounts(t *testing.T) {
	for _, tc := range []struct {
		n, k int
	}{
		{n: 0, k: 10},
		{n: 1, k: 0},
		{n: 1, k: 1},
		{n: 4, k: 5000},
		{n: 16, k: 1000},
	} {
		c := &counter.Counter{}
		p := Pool{Counter: c, Threads: semaphore.NewWeighted(64)}
		if err := p.Run(tc.n, tc.k); err != nil {
			t.Fatalf("Run(%d, %d): %v", tc.n, tc.k, err)
		}
		if got, want := c.Snapshot(), uint64(tc.n*tc.k); got != want {
			t.Errorf("Run(%d, %d): counter = %d, want %d", tc.n, tc.k, got, want)
		}
	}
}

func TestPoolInvalidArguments(t *testing.T) {
	p := Pool{Counter: &counter.Counter{}}
	if err := p.Run(-1, 1); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Run(-1, 1) = %v, want EINVAL", err)
	}
	var empty Pool
	if err := empty.Run(1, 1); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Run without counter or work = %v, want EINVAL", err)
	}
}

func TestPoolSpawnFailureStopsStartedWorkers(t *testing.T) {
	const capacity = 3
	threads := semaphore.NewWeighted(capacity)

	var mu sync.Mutex
	var started []*Worker
	p := Pool{
		Threads: threads,
		Work: func(w *Worker, iter int) error {
			if iter == 0 {
				mu.Lock()
				started = append(started, w)
				mu.Unlock()
			}
			time.Sleep(time.Millisecond)
			return nil
		},
	}
	// Enough iterations that no worker can finish before being stopped.
	err := p.Run(8, 1<<20)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("Run() = %v, want *SpawnError", err)
	}
	if se.Index != capacity {
		t.Errorf("SpawnError.Index = %d, want %d", se.Index, capacity)
	}
	if !linuxerr.Equals(linuxerr.EAGAIN, se.Err) {
		t.Errorf("SpawnError.Err = %v, want EAGAIN", se.Err)
	}

	// Every started worker has exited and returned its slot.
	if !threads.TryAcquire(capacity) {
		t.Fatalf("thread slots not released after rollback")
	}
	threads.Release(capacity)
	mu.Lock()
	defer mu.Unlock()
	for _, w := range started {
		if got := w.State(); got != Stopped {
			t.Errorf("worker %d state = %v, want %v", w.ID(), got, Stopped)
		}
		if !w.done.Completed() {
			t.Errorf("worker %d never fired its completion", w.ID())
		}
	}
}

func TestRunningWorkers(t *testing.T) {
	const n = 3
	var started sync.WaitGroup
	started.Add(n)
	unblock := make(chan struct{})
	p := Pool{
		Work: func(w *Worker, iter int) error {
			if iter == 0 {
				started.Done()
				<-unblock
			}
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- p.Run(n, 2) }()

	started.Wait()
	if got := running.Load(); got != n {
		t.Errorf("running = %d with %d workers blocked, want %d", got, n, n)
	}
	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := running.Load(); got != 0 {
		t.Errorf("running = %d after Run returned, want 0", got)
	}
}

func TestPoolErrorsTranslate(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want unix.Errno
		ok   bool
	}{
		{err: &SpawnError{Index: 2, Err: linuxerr.EAGAIN}, want: unix.EAGAIN, ok: true},
		{err: &WorkerError{ID: 1, Err: linuxerr.EIO}, want: unix.EIO, ok: true},
		{err: &WorkerError{ID: 1, Err: errors.New("panic: boom")}},
	} {
		e, ok := linuxerr.TranslateError(tc.err)
		if ok != tc.ok {
			t.Errorf("TranslateError(%v) ok = %t, want %t", tc.err, ok, tc.ok)
			continue
		}
		if ok && linuxerr.ToUnix(e) != tc.want {
			t.Errorf("TranslateError(%v) = %v, want %v", tc.err, linuxerr.ToUnix(e), tc.want)
		}
	}
}

func TestPoolWorkerFailureDoesNotHang(t *testing.T) {
	errBoom := errors.New("boom")
	c := &counter.Counter{}
	p := Pool{
		Counter: c,
		Work: func(w *Worker, iter int) error {
			if w.ID() == 2 && iter == 10 {
				return errBoom
			}
			c.Increment()
			return nil
		},
	}
	err := p.Run(4, 100)
	var we *WorkerError
	if !errors.As(err, &we) {
		t.Fatalf("Run() = %v, want *WorkerError", err)
	}
	if we.ID != 2 || !errors.Is(err, errBoom) {
		t.Errorf("Run() = %v, want worker 2 failure wrapping %v", err, errBoom)
	}
	if got, want := c.Snapshot(), uint64(3*100+10); got != want {
		t.Errorf("counter = %d, want %d", got, want)
	}
}

func TestPoolWorkerPanicDoesNotHang(t *testing.T) {
	p := Pool{
		Work: func(w *Worker, iter int) error {
			if w.ID() == 0 {
				panic("bad iteration")
			}
			return nil
		},
	}
	var we *WorkerError
	if err := p.Run(3, 5); !errors.As(err, &we) || we.ID != 0 {
		t.Errorf("Run() = %v, want worker 0 failure", err)
	}
}

func TestConcurrentPoolsNoLostUpdates(t *testing.T) {
	c := &counter.Counter{}
	threads := semaphore.NewWeighted(8)

	stop := make(chan struct{})
	regressed := make(chan uint64, 1)
	go func() {
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			v := c.Snapshot()
			if v < last {
				regressed <- v
				return
			}
			last = v
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := Pool{Counter: c, Threads: threads}
			errs[i] = p.Run(4, 5000)
		}(i)
	}
	wg.Wait()
	close(stop)

	for i, err := range errs {
		if err != nil {
			t.Errorf("pool %d: %v", i, err)
		}
	}
	if got := c.Snapshot(); got != 40000 {
		t.Errorf("counter = %d, want 40000", got)
	}
	select {
	case v := <-regressed:
		t.Errorf("counter regressed to %d", v)
	default:
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Created:   "Created",
		Running:   "Running",
		Completed: "Completed",
		Failed:    "Failed",
		Stopped:   "Stopped",
		State(42): "State(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(s), got, want)
		}
	}
}
