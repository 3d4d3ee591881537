// Copyright 2020 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"sync"
)

// Once is an alias of sync.Once.
type Once = sync.Once

// WaitGroup is an alias of sync.WaitGroup.
type WaitGroup = sync.WaitGroup
