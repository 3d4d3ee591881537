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

// Package cmd holds implementations of the kcounter commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"gvisor.dev/kcounter/kcounter/config"
	"gvisor.dev/kcounter/pkg/errors/linuxerr"
	"gvisor.dev/kcounter/pkg/log"
	"gvisor.dev/kcounter/pkg/sentry/kernel"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of kcounter, in addition to the regular log.
var ErrorLogger io.Writer

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "kcounter: %s\n", msg)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, "%s\n", msg)
	}
	os.Exit(128)
}

// newKernel initializes a kernel from conf and runs a startup pool of
// workers x iterations.
func newKernel(conf *config.Config, workers, iterations int) (*kernel.Kernel, error) {
	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		MaxThreads: conf.MaxThreads,
		Workers:    workers,
		Iterations: iterations,
	}); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	return k, nil
}

// describeErr formats err for the user, naming the errno when err carries one.
func describeErr(err error) string {
	if e, ok := linuxerr.TranslateError(err); ok {
		if errno := linuxerr.ToUnix(e); errno != 0 {
			return fmt.Sprintf("%v (%s)", err, unix.ErrnoName(errno))
		}
	}
	return err.Error()
}
