// Copyright 2020 The gVisor Authors.
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

// Package chardev implements a character device that reports a shared counter.
//
// At most one session may have the device open. A read returns the counter as
// decimal text followed by a newline; the next read on the same session
// returns end-of-data, and the one after that reports the counter again.
// Writes of up to maxPayload bytes are staged in a NUL-terminated buffer.
package chardev

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gvisor.dev/kcounter/pkg/counter"
	"gvisor.dev/kcounter/pkg/errors/linuxerr"
	"gvisor.dev/kcounter/pkg/log"
	"gvisor.dev/kcounter/pkg/metric"
	"gvisor.dev/kcounter/pkg/sync"
	"gvisor.dev/kcounter/pkg/usermem"
)

const (
	// Name is the device name.
	Name = "chardev"

	// bufLen is the size of the write staging buffer, including the
	// terminating NUL.
	bufLen = 256

	// maxPayload is the largest write that is accepted.
	maxPayload = bufLen - 1
)

var (
	openResult  = metric.NewField("result", []string{"ok", "busy"})
	writeResult = metric.NewField("result", []string{"accepted", "rejected", "fault"})

	opensMetric         = metric.MustCreateNewUint64Metric("/chardev/opens", "Number of device open attempts, by result.", openResult)
	readsMetric         = metric.MustCreateNewUint64Metric("/chardev/reads", "Number of reads that delivered the counter value.")
	writesMetric        = metric.MustCreateNewUint64Metric("/chardev/writes", "Number of device writes, by result.", writeResult)
	writeAttemptsMetric = metric.MustCreateNewUint64Metric("/chardev/write_attempts", "Number of write calls on the device.")
)

// oversized logs rejected writes. A caller looping on large writes would
// otherwise flood the log.
var oversized = log.BasicRateLimitedLogger(time.Second)

// Device is the counter character device.
//
// Lock order: mu, then ioMu.
type Device struct {
	counter *counter.Counter

	mu sync.Mutex

	// open is the currently open session, or nil.
	//
	// +checklocks:mu
	open *FD

	// ioMu serializes reads and writes.
	ioMu sync.Mutex

	// pending is the length of the last delivered payload, or 0 if the
	// session is drained.
	//
	// +checklocks:ioMu
	pending int

	// writeAttempts counts write calls over the device's lifetime.
	//
	// +checklocks:ioMu
	writeAttempts uint64

	// +checklocks:ioMu
	staging [bufLen]byte
}

// New returns a device that reports c.
func New(c *counter.Counter) *Device {
	return &Device{counter: c}
}

// FD is an open session on a Device. It is the only handle through which the
// device can be read or written.
type FD struct {
	dev     *Device
	session uuid.UUID
}

// Open opens a new session. It fails with EBUSY if a session is already open,
// in which case no state changes.
func (d *Device) Open(ctx context.Context) (*FD, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open != nil {
		opensMetric.Increment("busy")
		log.Debugf("%s: open rejected, session %s is active", Name, d.open.session)
		return nil, linuxerr.EBUSY
	}
	fd := &FD{
		dev:     d,
		session: uuid.New(),
	}
	d.open = fd

	d.ioMu.Lock()
	d.pending = 0
	d.ioMu.Unlock()

	opensMetric.Increment("ok")
	log.Infof("%s: device opened, session %s", Name, fd.session)
	return fd, nil
}

// IsOpen returns true if a session is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open != nil
}

// ForceRelease closes the open session, if any. It returns true if a session
// was closed. The released FD becomes invalid.
func (d *Device) ForceRelease(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open == nil {
		return false
	}
	log.Infof("%s: forcing release of session %s", Name, d.open.session)
	d.open = nil
	return true
}

// Session returns the session identifier.
func (fd *FD) Session() uuid.UUID {
	return fd.session
}

// Release closes the session. Releasing a session that is not open is
// reported as EBADF.
func (fd *FD) Release(ctx context.Context) error {
	d := fd.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open != fd {
		log.Warningf("%s: release of session %s with no matching open", Name, fd.session)
		return linuxerr.EBADF
	}
	d.open = nil
	log.Infof("%s: device released, session %s", Name, fd.session)
	return nil
}

// lockIO acquires d.ioMu on behalf of fd. It returns EBADF, with no lock
// held, if fd is not the open session. d.mu is held until ioMu is acquired:
// a concurrent Release either precedes the check or follows the I/O.
//
// +checklocksacquire:fd.dev.ioMu
func (fd *FD) lockIO() error {
	d := fd.dev
	d.mu.Lock()
	if d.open != fd {
		d.mu.Unlock()
		return linuxerr.EBADF
	}
	d.ioMu.Lock()
	d.mu.Unlock()
	return nil
}

// Read copies the counter value, as "<value>\n", into dst. The text is
// truncated to dst.NumBytes(). If the previous read on this session delivered
// data, Read instead returns (0, io.EOF) and the session is drained.
//
// A fault while copying to dst returns EIO and leaves the session drained.
func (fd *FD) Read(ctx context.Context, dst usermem.IOSequence) (int64, error) {
	if err := fd.lockIO(); err != nil {
		return 0, err
	}
	d := fd.dev
	defer d.ioMu.Unlock()

	if d.pending != 0 {
		d.pending = 0
		return 0, io.EOF
	}

	buf := strconv.AppendUint(make([]byte, 0, 21), d.counter.Snapshot(), 10)
	buf = append(buf, '\n')
	dst = dst.TakeFirst(len(buf))
	buf = buf[:dst.NumBytes()]
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := dst.CopyOut(ctx, buf)
	if err != nil {
		log.Warningf("%s: failed to send %d characters to the user: %v", Name, len(buf), err)
		return 0, linuxerr.EIO
	}
	d.pending = n
	readsMetric.Increment()
	log.Debugf("%s: sent %d characters to the user", Name, n)
	return int64(n), nil
}

// Write stages the contents of src. Every call counts as a write attempt.
// Payloads longer than maxPayload are rejected with (0, nil); a fault while
// copying from src returns EIO.
func (fd *FD) Write(ctx context.Context, src usermem.IOSequence) (int64, error) {
	if err := fd.lockIO(); err != nil {
		return 0, err
	}
	d := fd.dev
	defer d.ioMu.Unlock()

	d.writeAttempts++
	writeAttemptsMetric.Increment()
	attempt := d.writeAttempts

	n := src.NumBytes()
	if n > maxPayload {
		writesMetric.Increment("rejected")
		oversized.Warningf("%s: write attempt %d rejected: %d bytes exceeds %d", Name, attempt, n, maxPayload)
		return 0, nil
	}
	if _, err := src.CopyIn(ctx, d.staging[:n]); err != nil {
		writesMetric.Increment("fault")
		log.Warningf("%s: write attempt %d: failed to copy %d bytes from the user: %v", Name, attempt, n, err)
		return 0, linuxerr.EIO
	}
	d.staging[n] = 0
	writesMetric.Increment("accepted")
	log.Infof("%s: write attempt %d staged %q", Name, attempt, d.stagedLocked())
	return n, nil
}

// stagedLocked returns the staged string up to the terminating NUL.
//
// +checklocks:d.ioMu
func (d *Device) stagedLocked() string {
	s := d.staging[:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}
