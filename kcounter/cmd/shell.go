// Copyright 2023 The gVisor Authors.
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
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"
	"gvisor.dev/kcounter/kcounter/config"
	"gvisor.dev/kcounter/pkg/sentry/devices/chardev"
	"gvisor.dev/kcounter/pkg/sentry/kernel"
	"gvisor.dev/kcounter/pkg/usermem"
)

// Shell implements subcommands.Command for the "shell" command.
type Shell struct{}

// Name implements subcommands.Command.Name.
func (*Shell) Name() string {
	return "shell"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Shell) Synopsis() string {
	return "interactive console for the device and worker pools"
}

// Usage implements subcommands.Command.Usage.
func (*Shell) Usage() string {
	return `shell [flags] - runs the startup pool, then reads commands from the terminal.
Type 'help' for the list of commands.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Shell) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Shell) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := newKernel(conf, conf.Workers, conf.Iterations)
	if err != nil {
		Fatalf("%v", err)
	}
	defer k.Shutdown(ctx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kcounter> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		Fatalf("failed to create readline: %v", err)
	}
	defer rl.Close()

	c := &console{k: k, out: rl.Stdout()}
	c.printHelp()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			break
		}
		if !c.exec(ctx, line) {
			break
		}
	}
	c.releaseSession(ctx)
	fmt.Fprintln(c.out, "Exiting...")
	return subcommands.ExitSuccess
}

// maxReadSize bounds the buffer of the read command.
const maxReadSize = 4096

// console executes shell commands against a kernel. It holds at most one
// device session.
type console struct {
	k   *kernel.Kernel
	out io.Writer
	fd  *chardev.FD
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  open             - open a device session
  read [n]         - read from the device with an n-byte buffer (default 64, at most 4096)
  write <text>     - write text to the device
  release          - release the device session
  run <n> <k>      - run a pool of n workers doing k increments each
  value            - print the counter
  help             - show this help
  quit             - exit
`)
}

// exec runs one command line. It returns false if the shell should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "open":
		c.cmdOpen(ctx)
	case "read", "r":
		c.cmdRead(ctx, args)
	case "write", "w":
		c.cmdWrite(ctx, line)
	case "release":
		c.cmdRelease(ctx)
	case "run":
		c.cmdRun(args)
	case "value", "v":
		fmt.Fprintf(c.out, "%d\n", c.k.Counter.Snapshot())
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *console) cmdOpen(ctx context.Context) {
	if c.fd != nil {
		fmt.Fprintf(c.out, "Session %s is already open\n", c.fd.Session())
		return
	}
	fd, err := c.k.Device.Open(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %s\n", describeErr(err))
		return
	}
	c.fd = fd
	fmt.Fprintf(c.out, "Opened session %s\n", fd.Session())
}

func (c *console) cmdRead(ctx context.Context, args []string) {
	if c.fd == nil {
		fmt.Fprintln(c.out, "No open session")
		return
	}
	size := 64
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n > maxReadSize {
			fmt.Fprintf(c.out, "Invalid buffer size %q, must be between 0 and %d\n", args[0], maxReadSize)
			return
		}
		size = n
	}
	buf := make([]byte, size)
	n, err := c.fd.Read(ctx, usermem.BytesIOSequence(buf))
	switch {
	case err == io.EOF:
		fmt.Fprintln(c.out, "(end of data)")
	case err != nil:
		fmt.Fprintf(c.out, "Error: %s\n", describeErr(err))
	default:
		fmt.Fprintf(c.out, "%q (%d bytes)\n", buf[:n], n)
	}
}

// cmdWrite writes everything after the command word, preserving spaces.
func (c *console) cmdWrite(ctx context.Context, line string) {
	if c.fd == nil {
		fmt.Fprintln(c.out, "No open session")
		return
	}
	text := strings.TrimSpace(line)
	if i := strings.IndexFunc(text, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		text = strings.TrimLeft(text[i:], " \t")
	} else {
		text = ""
	}
	n, err := c.fd.Write(ctx, usermem.BytesIOSequence([]byte(text)))
	if err != nil {
		fmt.Fprintf(c.out, "Error: %s\n", describeErr(err))
		return
	}
	fmt.Fprintf(c.out, "Accepted %d of %d bytes\n", n, len(text))
}

func (c *console) cmdRelease(ctx context.Context) {
	if c.fd == nil {
		fmt.Fprintln(c.out, "No open session")
		return
	}
	c.releaseSession(ctx)
}

func (c *console) releaseSession(ctx context.Context) {
	if c.fd == nil {
		return
	}
	if err := c.fd.Release(ctx); err != nil {
		fmt.Fprintf(c.out, "Error: %s\n", describeErr(err))
	} else {
		fmt.Fprintf(c.out, "Released session %s\n", c.fd.Session())
	}
	c.fd = nil
}

func (c *console) cmdRun(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: run <n> <k>")
		return
	}
	n, err1 := strconv.Atoi(args[0])
	iters, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Fprintf(c.out, "Invalid pool size %q x %q\n", args[0], args[1])
		return
	}
	if err := c.k.RunPool(n, iters); err != nil {
		fmt.Fprintf(c.out, "Error: %s\n", describeErr(err))
		return
	}
	fmt.Fprintf(c.out, "Counter is now %d\n", c.k.Counter.Snapshot())
}
