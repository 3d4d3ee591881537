// Copyright 2021 The gVisor Authors.
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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/kcounter/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. Since the types are distinct they are not directly comparable,
// but Errno returns a number that is (e.g. EBUSY.Errno() == unix.EBUSY).
var (
	noError   *errors.Error = nil
	EPERM                   = errors.New(unix.EPERM, "operation not permitted")
	ESRCH                   = errors.New(unix.ESRCH, "no such process")
	EINTR                   = errors.New(unix.EINTR, "interrupted system call")
	EIO                     = errors.New(unix.EIO, "I/O error")
	EBADF                   = errors.New(unix.EBADF, "bad file number")
	EAGAIN                  = errors.New(unix.EAGAIN, "try again")
	ENOMEM                  = errors.New(unix.ENOMEM, "out of memory")
	EFAULT                  = errors.New(unix.EFAULT, "bad address")
	EBUSY                   = errors.New(unix.EBUSY, "device or resource busy")
	ENODEV                  = errors.New(unix.ENODEV, "no such device")
	EINVAL                  = errors.New(unix.EINVAL, "invalid argument")
	ENOSPC                  = errors.New(unix.ENOSPC, "no space left on device")
	ESHUTDOWN               = errors.New(unix.ESHUTDOWN, "cannot send after transport endpoint shutdown")
	ECANCELED               = errors.New(unix.ECANCELED, "operation Canceled")
)

var errorMap = map[unix.Errno]*errors.Error{
	unix.EPERM:     EPERM,
	unix.ESRCH:     ESRCH,
	unix.EINTR:     EINTR,
	unix.EIO:       EIO,
	unix.EBADF:     EBADF,
	unix.EAGAIN:    EAGAIN,
	unix.ENOMEM:    ENOMEM,
	unix.EFAULT:    EFAULT,
	unix.EBUSY:     EBUSY,
	unix.ENODEV:    ENODEV,
	unix.EINVAL:    EINVAL,
	unix.ENOSPC:    ENOSPC,
	unix.ESHUTDOWN: ESHUTDOWN,
	unix.ECANCELED: ECANCELED,
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
