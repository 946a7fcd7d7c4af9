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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// The test doubles below are small shell scripts standing in for dropbear
// and dropbearkey.  They rely on a POSIX /bin/sh.

const (
	// Prints to both streams, then idles until SIGTERM.
	chattyDaemon = `echo "line one"
echo "line two" >&2
trap 'exit 0' TERM
while :; do sleep 0.05 & wait $!; done
`
	// Ignores SIGTERM and must be killed.
	stubbornDaemon = `trap '' TERM
echo "not going"
while :; do sleep 0.05; done
`
	// Reports its arguments and exits.
	argsDaemon = `echo "ARGS $*"
exit 0
`
	// Output without a trailing newline.
	partialDaemon = `printf 'no newline'
exit 0
`
	// Writes its arguments into the file named by -f.
	goodKeygen = `out=""
args="$*"
while [ $# -gt 0 ]; do
	case "$1" in
	-f) shift; out="$1";;
	esac
	shift
done
echo "Will output 2048 bit rsa secret key to '$out'"
echo "$args" > "$out"
exit 0
`
	badKeygen = `echo "boom" >&2
exit 1
`
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

// collector is a Sink that remembers what it was given.
type collector struct {
	lines []string
	sync.Mutex
}

func (c *collector) sink(line string) {
	c.Lock()
	c.lines = append(c.lines, line)
	c.Unlock()
}

func (c *collector) get() []string {
	c.Lock()
	defer c.Unlock()
	return append([]string{}, c.lines...)
}

func (c *collector) has(substr string) bool {
	for _, l := range c.get() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// index returns the position of the first line equal to line, or -1.
func (c *collector) index(line string) int {
	for i, l := range c.get() {
		if l == line {
			return i
		}
	}
	return -1
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if e := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); e != nil {
		t.Fatalf("writing %s: %v", path, e)
	}
	return path
}

func writeHostKey(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, HostKeyName)
	if e := os.WriteFile(path, []byte("fake key\n"), 0600); e != nil {
		t.Fatalf("writing %s: %v", path, e)
	}
	return path
}

// newTestSupervisor returns a Supervisor rooted at a fresh directory
// holding the given daemon script and, if present, an existing host key.
func newTestSupervisor(t *testing.T, daemon string, key bool) (*Supervisor, *collector, string) {
	t.Helper()
	dir := t.TempDir()
	if daemon != "" {
		writeScript(t, dir, DaemonName, daemon)
	}
	if key {
		writeHostKey(t, dir)
	}
	c := &collector{}
	s := NewSupervisor("test", c.sink)
	if e := s.SetProperty(PropLayout, Layout{Base: dir}); e != nil {
		t.Fatalf("setting layout: %v", e)
	}
	t.Cleanup(func() { s.Close() })
	return s, c, dir
}

// drainUntil keeps draining until cond holds or the timeout expires.
func drainUntil(s *Supervisor, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.Drain()
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
