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

package linuxerr

import (
	goerrors "errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/kcounter/pkg/errors"
)

func TestEquals(t *testing.T) {
	for _, tc := range []struct {
		name string
		e    *errors.Error
		err  error
		want bool
	}{
		{name: "same", e: EBUSY, err: EBUSY, want: true},
		{name: "unix", e: EBUSY, err: unix.EBUSY, want: true},
		{name: "different", e: EBUSY, err: EIO, want: false},
		{name: "nil", e: nil, err: nil, want: true},
		{name: "nil vs error", e: nil, err: EIO, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equals(tc.e, tc.err); got != tc.want {
				t.Errorf("Equals(%v, %v) = %v, want %v", tc.e, tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorsIsUnix(t *testing.T) {
	wrapped := fmt.Errorf("open: %w", EBUSY)
	if !goerrors.Is(wrapped, unix.EBUSY) {
		t.Errorf("errors.Is(%v, unix.EBUSY) = false, want true", wrapped)
	}
	if goerrors.Is(wrapped, unix.EIO) {
		t.Errorf("errors.Is(%v, unix.EIO) = true, want false", wrapped)
	}
}

func TestToUnix(t *testing.T) {
	if got := ToUnix(nil); got != 0 {
		t.Errorf("ToUnix(nil) = %v, want 0", got)
	}
	if got := ToUnix(EFAULT); got != unix.EFAULT {
		t.Errorf("ToUnix(EFAULT) = %v, want %v", got, unix.EFAULT)
	}
}

type typedError struct{ errno unix.Errno }

func (e *typedError) Error() string { return e.errno.Error() }

func TestTranslateError(t *testing.T) {
	AddErrorUnwrapper(func(err error) (*errors.Error, bool) {
		var te *typedError
		if !goerrors.As(err, &te) {
			return nil, false
		}
		return TranslateError(te.errno)
	})
	if got, ok := TranslateError(EAGAIN); !ok || got != EAGAIN {
		t.Errorf("TranslateError(EAGAIN) = %v, %v, want %v, true", got, ok, EAGAIN)
	}
	if got, ok := TranslateError(&typedError{unix.ENOMEM}); !ok || got != ENOMEM {
		t.Errorf("TranslateError(typed ENOMEM) = %v, %v, want %v, true", got, ok, ENOMEM)
	}
	if got, ok := TranslateError(unix.EBUSY); !ok || got != EBUSY {
		t.Errorf("TranslateError(unix.EBUSY) = %v, %v, want %v, true", got, ok, EBUSY)
	}
	if _, ok := TranslateError(unix.E2BIG); ok {
		t.Errorf("TranslateError(unix.E2BIG) succeeded, want failure")
	}
	if _, ok := TranslateError(goerrors.New("plain")); ok {
		t.Errorf("TranslateError(plain) succeeded, want failure")
	}
}
