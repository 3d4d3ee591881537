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

package chardev

import (
	"context"
	"io"

	"github.com/cenkalti/backoff"
	"gvisor.dev/kcounter/pkg/errors/linuxerr"
	"gvisor.dev/kcounter/pkg/usermem"
)

// reader adapts an FD to io.Reader.
type reader struct {
	ctx context.Context
	fd  *FD
}

// NewReader returns an io.Reader over fd. Reading it to end-of-data yields
// one read-once payload, so io.ReadAll behaves like cat(1) on the device.
func NewReader(ctx context.Context, fd *FD) io.Reader {
	return &reader{ctx: ctx, fd: fd}
}

// Read implements io.Reader.Read.
func (r *reader) Read(p []byte) (int, error) {
	n, err := r.fd.Read(r.ctx, usermem.BytesIOSequence(p))
	return int(n), err
}

// OpenRetry opens d, retrying with b while the device is busy. Any other
// error is returned immediately.
func OpenRetry(ctx context.Context, d *Device, b backoff.BackOff) (*FD, error) {
	var fd *FD
	op := func() error {
		var err error
		fd, err = d.Open(ctx)
		if err != nil && !linuxerr.Equals(linuxerr.EBUSY, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return fd, nil
}
