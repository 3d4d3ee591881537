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

// Package usermem governs access to caller-owned buffers. Device
// implementations never touch a caller's memory directly; they copy through
// an IO, which may fault.
package usermem

import (
	"context"

	"gvisor.dev/kcounter/pkg/errors/linuxerr"
)

// Addr is an offset into the address space of an IO.
type Addr uint64

// IOOpts contains options applicable to all IO methods. BytesIO takes none.
type IOOpts struct{}

// IO provides access to the contents of a virtual memory space.
type IO interface {
	// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
	// returns the number of bytes copied. If the number of bytes copied is <
	// len(src), it returns a non-nil error explaining why.
	CopyOut(ctx context.Context, addr Addr, src []byte, opts IOOpts) (int, error)

	// CopyIn copies len(dst) bytes from the memory mapped at addr to dst.
	// It returns the number of bytes copied. If the number of bytes copied is
	// < len(dst), it returns a non-nil error explaining why.
	CopyIn(ctx context.Context, addr Addr, dst []byte, opts IOOpts) (int, error)
}

// BytesIO implements IO using a byte slice. Addresses are interpreted as
// offsets into the slice. Reads and writes beyond the end of the slice return
// EFAULT.
type BytesIO struct {
	Bytes []byte
}

// CopyOut implements IO.CopyOut.
func (b *BytesIO) CopyOut(ctx context.Context, addr Addr, src []byte, opts IOOpts) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(src))
	if rngN == 0 {
		return 0, rngErr
	}
	return copy(b.Bytes[int(addr):], src[:rngN]), rngErr
}

// CopyIn implements IO.CopyIn.
func (b *BytesIO) CopyIn(ctx context.Context, addr Addr, dst []byte, opts IOOpts) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(dst))
	if rngN == 0 {
		return 0, rngErr
	}
	return copy(dst[:rngN], b.Bytes[int(addr):]), rngErr
}

// rangeCheck returns the number of bytes that can be accessed at addr, and an
// error if that is fewer than length.
func (b *BytesIO) rangeCheck(addr Addr, length int) (int, error) {
	if length == 0 {
		return 0, nil
	}
	if addr >= Addr(len(b.Bytes)) {
		return 0, linuxerr.EFAULT
	}
	if avail := len(b.Bytes) - int(addr); length > avail {
		return avail, linuxerr.EFAULT
	}
	return length, nil
}

// IOSequence holds arguments to IO methods: a contiguous range of length
// Length starting at Addr in IO.
type IOSequence struct {
	IO     IO
	Addr   Addr
	Length int64
	Opts   IOOpts
}

// BytesIOSequence returns an IOSequence representing the given byte slice.
func BytesIOSequence(buf []byte) IOSequence {
	return IOSequence{
		IO:     &BytesIO{buf},
		Length: int64(len(buf)),
	}
}

// NumBytes returns the number of bytes in s.
func (s IOSequence) NumBytes() int64 {
	return s.Length
}

// TakeFirst returns an IOSequence equivalent to s, with a length of at most
// n bytes.
func (s IOSequence) TakeFirst(n int) IOSequence {
	if int64(n) < s.Length {
		s.Length = int64(n)
	}
	return s
}

// CopyOut invokes s.IO.CopyOut over s. At most s.NumBytes() bytes of src are
// copied.
func (s IOSequence) CopyOut(ctx context.Context, src []byte) (int, error) {
	if int64(len(src)) > s.Length {
		src = src[:s.Length]
	}
	return s.IO.CopyOut(ctx, s.Addr, src, s.Opts)
}

// CopyIn invokes s.IO.CopyIn over s. At most s.NumBytes() bytes are copied
// into dst.
func (s IOSequence) CopyIn(ctx context.Context, dst []byte) (int, error) {
	if int64(len(dst)) > s.Length {
		dst = dst[:s.Length]
	}
	return s.IO.CopyIn(ctx, s.Addr, dst, s.Opts)
}
