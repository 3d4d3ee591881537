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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/kcounter/kcounter/config"
	"gvisor.dev/kcounter/pkg/sentry/devices/chardev"
	"gvisor.dev/kcounter/pkg/usermem"
)

// Cat implements subcommands.Command for the "cat" command.
type Cat struct {
	bufSize int
}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string {
	return "run the startup pool and read the device until end of data"
}

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string {
	return `cat [flags] - reads the device with a buffer of -bs bytes until end of data.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Cat) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.bufSize, "bs", 4096, "size of the read buffer; the payload is truncated to it.")
}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if c.bufSize <= 0 {
		Fatalf("-bs must be positive, got %d", c.bufSize)
	}
	conf := args[0].(*config.Config)

	k, err := newKernel(conf, conf.Workers, conf.Iterations)
	if err != nil {
		Fatalf("%v", err)
	}
	defer k.Shutdown(ctx)

	out, err := readDevice(ctx, k.Device, c.bufSize)
	if err != nil {
		Fatalf("reading device: %s", describeErr(err))
	}
	fmt.Fprint(os.Stdout, out)
	return subcommands.ExitSuccess
}

// readDevice opens dev and reads it until end of data using reads of at most
// bufSize bytes. If bufSize is 0, the reads are unbounded.
func readDevice(ctx context.Context, dev *chardev.Device, bufSize int) (string, error) {
	fd, err := dev.Open(ctx)
	if err != nil {
		return "", err
	}
	defer fd.Release(ctx)

	if bufSize == 0 {
		data, err := io.ReadAll(chardev.NewReader(ctx, fd))
		return string(data), err
	}
	var sb strings.Builder
	buf := make([]byte, bufSize)
	for {
		n, err := fd.Read(ctx, usermem.BytesIOSequence(buf))
		sb.Write(buf[:n])
		switch {
		case err == io.EOF:
			return sb.String(), nil
		case err != nil:
			return sb.String(), err
		case n == 0:
			return sb.String(), nil
		}
	}
}
