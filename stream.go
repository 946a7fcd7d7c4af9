// Copyright 2026 The Dropvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dropvisor

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// logStream is the parent's end of the daemon's combined output pipe.
// It is deliberately kept as a raw descriptor rather than an *os.File,
// as the runtime poller would turn reads into blocking waits.
type logStream struct {
	fd int
}

// newLogPipe creates the pipe the daemon writes into.  The read end is
// non-blocking; the write end is returned as a file suitable for handing
// to exec.Cmd.  On failure nothing is left open.
func newLogPipe() (*logStream, *os.File, error) {
	var fds [2]int

	// Hold the fork lock so no other child can inherit these before
	// they are marked close-on-exec.
	syscall.ForkLock.RLock()
	e := unix.Pipe(fds[:])
	if e == nil {
		unix.CloseOnExec(fds[0])
		unix.CloseOnExec(fds[1])
	}
	syscall.ForkLock.RUnlock()
	if e != nil {
		return nil, nil, fmt.Errorf("%w: pipe: %v", ErrPipeSetup, e)
	}

	if e := unix.SetNonblock(fds[0], true); e != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("%w: set non-blocking: %v", ErrPipeSetup, e)
	}

	w := os.NewFile(uintptr(fds[1]), "dropbear-log")
	if w == nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("%w: bad descriptor", ErrPipeSetup)
	}
	return &logStream{fd: fds[0]}, w, nil
}

// read performs one non-blocking read.  unix.EAGAIN means there is no
// data yet; a zero count with a nil error is end of stream.
func (ls *logStream) read(b []byte) (int, error) {
	for {
		n, e := unix.Read(ls.fd, b)
		if e == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, e
	}
}

func (ls *logStream) close() {
	if ls.fd >= 0 {
		unix.Close(ls.fd)
		ls.fd = -1
	}
}

func wouldBlock(e error) bool {
	return e == unix.EAGAIN || e == unix.EWOULDBLOCK
}
