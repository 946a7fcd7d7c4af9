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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultStopAttempts = 20
	DefaultStopInterval = 10 * time.Millisecond
	DefaultKeyType      = "rsa"
	DefaultProbeTimeout = 5 * time.Second

	// ExitExecFailed is the status a child reports when it could not
	// replace its image with the requested binary.
	ExitExecFailed = 127

	readChunk        = 1024
	maxReadsPerDrain = 64
)

// child is one spawned daemon.  The reaper goroutine owns Wait; state and
// err may only be read once done is closed.
type child struct {
	cmd      *exec.Cmd
	done     chan struct{}
	state    *os.ProcessState
	err      error
	run      string
	started  time.Time
	reported bool
}

func (c *child) wait() {
	c.err = c.cmd.Wait()
	c.state = c.cmd.ProcessState
	close(c.done)
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *child) pid() int {
	return c.cmd.Process.Pid
}

func describeExit(state *os.ProcessState, err error) string {
	if state == nil {
		if err != nil {
			return err.Error()
		}
		return "unknown status"
	}
	if state.Exited() && state.ExitCode() == ExitExecFailed {
		return state.String() + " (could not execute daemon image)"
	}
	return state.String()
}

// Supervisor owns exactly one bundled dropbear process.  It starts it
// (provisioning a host key first if needed), relays its combined output
// to a Sink one line at a time, and stops it, escalating from SIGTERM to
// SIGKILL if the daemon does not go away in time.
//
// Drain is intended to be called periodically, from whatever loop the
// caller already has.  Close must be called when the Supervisor is no
// longer needed; it is safe to call more than once.
type Supervisor struct {
	name string
	sink Sink

	layout         Layout
	stopAttempts   int
	stopInterval   time.Duration
	listenAddr     string
	extraArgs      []string
	keyType        string
	requireHostKey bool
	probeTimeout   time.Duration
	metrics        *Metrics

	child   *child
	last    *child // most recently stopped child, for Status
	stream  *logStream
	pending lineBuffer
	forced  bool

	closeOnce sync.Once
	lock      sync.Mutex
}

func (s *Supervisor) logf(format string, v ...interface{}) {
	s.sink(fmt.Sprintf(format, v...))
}

func (s *Supervisor) Name() string {
	return s.name
}

// daemonArgs returns the arguments following argv[0].
func (s *Supervisor) daemonArgs() []string {
	args := []string{
		"-E", // log to stderr
		"-F", // do not fork into the background
		"-r", s.layout.HostKeyPath(),
	}
	if s.listenAddr != "" {
		args = append(args, "-p", s.listenAddr)
	}
	return append(args, s.extraArgs...)
}

// Start launches the daemon.  On any failure no child exists afterwards
// and Start may simply be called again.
func (s *Supervisor) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.start()
}

func (s *Supervisor) start() error {
	if c := s.child; c != nil {
		s.logf("dropbear is already running (pid %d)", c.pid())
		return ErrAlreadyRunning
	}

	path := s.layout.DaemonPath()
	if !isExecutable(path) {
		s.logf("dropbear not found or not executable at: %s", path)
		s.metrics.startFailed()
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
	}
	s.logf("starting bundled dropbear at: %s", path)

	if e := s.ensureHostKey(); e != nil {
		if s.requireHostKey {
			s.logf("ERROR: no usable host key, not starting dropbear")
			s.metrics.startFailed()
			return e
		}
		s.logf("WARNING: could not create host key, Dropbear may fail.")
	}

	stream, w, e := newLogPipe()
	if e != nil {
		s.logf("%v", e)
		s.metrics.startFailed()
		return e
	}

	cmd := &exec.Cmd{
		Path:   path,
		Args:   append([]string{DaemonName}, s.daemonArgs()...),
		Stdout: w,
		Stderr: w,
	}
	if e := cmd.Start(); e != nil {
		w.Close()
		stream.close()
		s.logf("spawning dropbear failed: %v", e)
		s.metrics.startFailed()
		return fmt.Errorf("%w: %v", ErrSpawnFailure, e)
	}
	// The child has its own copies of the write end now; ours must go
	// or we would never see end of stream.
	w.Close()

	c := &child{
		cmd:     cmd,
		done:    make(chan struct{}),
		run:     uuid.NewString(),
		started: time.Now(),
	}
	go c.wait()

	s.child = c
	s.stream = stream
	s.pending.reset()
	s.forced = false
	s.metrics.started()
	return nil
}

// Drain reads whatever output the daemon has produced so far, without
// blocking, and forwards each complete line to the sink in order.  When
// the daemon closes its output, any trailing partial line is flushed and
// the stream is released.  Draining does not reap the daemon.
func (s *Supervisor) Drain() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	more, e := s.drain()
	if e == nil && !more {
		s.checkExit()
	}
	return e
}

// drain returns true if it stopped early with data possibly still
// pending in the pipe.
func (s *Supervisor) drain() (bool, error) {
	if s.stream == nil {
		return false, nil
	}
	var buf [readChunk]byte
	for i := 0; i < maxReadsPerDrain; i++ {
		n, e := s.stream.read(buf[:])
		switch {
		case e == nil && n > 0:
			s.metrics.lines(s.pending.feed(buf[:n], s.sink))
		case e == nil:
			s.metrics.lines(s.pending.flush(s.sink))
			s.stream.close()
			s.stream = nil
			return false, nil
		case wouldBlock(e):
			return false, nil
		default:
			s.logf("read error: %v", e)
			return false, fmt.Errorf("%w: %v", ErrReadError, e)
		}
	}
	return true, nil
}

// checkExit reports, once, a daemon that went away on its own.
func (s *Supervisor) checkExit() {
	c := s.child
	if c == nil || c.reported || !c.exited() {
		return
	}
	c.reported = true
	s.logf("dropbear exited: %s", describeExit(c.state, c.err))
}

// Stop terminates the daemon, if there is one.  It closes the output
// stream, sends SIGTERM, and waits a bounded time for the daemon to exit.
// If it does not, it is killed, and Stop waits until it has been reaped.
// Stop never fails, and is a no-op when there is no daemon.
func (s *Supervisor) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stop()
}

func (s *Supervisor) stop() {
	if s.stream != nil {
		s.stream.close()
		s.stream = nil
	}
	s.pending.reset()

	c := s.child
	if c == nil {
		return
	}
	s.forced = s.terminate(c)
	s.metrics.stopped(s.forced)
	s.last = c
	s.child = nil
}

// terminate returns true if the daemon had to be killed.
func (s *Supervisor) terminate(c *child) bool {
	proc := c.cmd.Process
	if e := proc.Signal(syscall.SIGTERM); e != nil && !errors.Is(e, os.ErrProcessDone) {
		s.logf("failed sending SIGTERM to dropbear: %v", e)
	}

	ticker := time.NewTicker(s.stopInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < s.stopAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-ticker.C:
		}
	}
	select {
	case <-c.done:
		return false
	default:
	}

	s.logf("dropbear did not exit after SIGTERM, killing it")
	if e := proc.Kill(); e != nil && !errors.Is(e, os.ErrProcessDone) {
		s.logf("failed killing dropbear: %v", e)
	}
	<-c.done
	return true
}

// Close stops the daemon exactly once.  Subsequent calls do nothing.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(s.Stop)
	return nil
}

// Restart stops the daemon, if running, and starts a fresh one.
func (s *Supervisor) Restart() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stop()
	return s.start()
}

// Running reports whether a daemon is owned and has not yet exited.
func (s *Supervisor) Running() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.child != nil && !s.child.exited()
}

// Pid returns the process ID of the owned daemon, or 0.
func (s *Supervisor) Pid() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.child == nil {
		return 0
	}
	return s.child.pid()
}

// Check verifies the daemon is alive.  When a listen address is
// configured, it also confirms the daemon answers as an SSH server.
func (s *Supervisor) Check() error {
	_, e := s.Probe(context.Background())
	return e
}

// Probe performs the same checks as Check, and also returns the host key
// the daemon presented.  The result is nil when no listen address is
// configured.
func (s *Supervisor) Probe(ctx context.Context) (*ProbeResult, error) {
	s.lock.Lock()
	c := s.child
	addr := s.listenAddr
	timeout := s.probeTimeout
	s.lock.Unlock()

	if c == nil {
		return nil, ErrNotRunning
	}
	if c.exited() {
		return nil, fmt.Errorf("%w: exited: %s", ErrNotRunning,
			describeExit(c.state, c.err))
	}
	if addr == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ProbeHostKey(ctx, probeAddr(addr), timeout)
}

func (s *Supervisor) SetProperty(n PropertyName, v interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch n {
	case PropLayout, PropListenAddr, PropExtraArgs, PropKeyType:
		// These shape the command line, which cannot change under
		// a running daemon.
		if s.child != nil {
			return ErrPropReadOnly
		}
	}

	switch n {
	case PropLayout:
		if v, ok := v.(Layout); ok {
			s.layout = v
			return nil
		}
		return ErrBadPropType
	case PropStopAttempts:
		if v, ok := v.(int); ok {
			if v < 0 {
				return ErrBadPropValue
			}
			s.stopAttempts = v
			return nil
		}
		return ErrBadPropType
	case PropStopInterval:
		if v, ok := v.(time.Duration); ok {
			if v <= 0 {
				return ErrBadPropValue
			}
			s.stopInterval = v
			return nil
		}
		return ErrBadPropType
	case PropListenAddr:
		if v, ok := v.(string); ok {
			s.listenAddr = v
			return nil
		}
		return ErrBadPropType
	case PropExtraArgs:
		if v, ok := v.([]string); ok {
			s.extraArgs = append([]string{}, v...)
			return nil
		}
		return ErrBadPropType
	case PropKeyType:
		if v, ok := v.(string); ok {
			if v == "" {
				return ErrBadPropValue
			}
			s.keyType = v
			return nil
		}
		return ErrBadPropType
	case PropRequireHostKey:
		if v, ok := v.(bool); ok {
			s.requireHostKey = v
			return nil
		}
		return ErrBadPropType
	case PropMetrics:
		if v, ok := v.(*Metrics); ok {
			s.metrics = v
			return nil
		}
		return ErrBadPropType
	case PropProbeTimeout:
		if v, ok := v.(time.Duration); ok {
			if v <= 0 {
				return ErrBadPropValue
			}
			s.probeTimeout = v
			return nil
		}
		return ErrBadPropType
	}
	return ErrBadPropName
}

func (s *Supervisor) Property(n PropertyName) (interface{}, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch n {
	case PropLayout:
		return s.layout, nil
	case PropStopAttempts:
		return s.stopAttempts, nil
	case PropStopInterval:
		return s.stopInterval, nil
	case PropListenAddr:
		return s.listenAddr, nil
	case PropExtraArgs:
		return append([]string{}, s.extraArgs...), nil
	case PropKeyType:
		return s.keyType, nil
	case PropRequireHostKey:
		return s.requireHostKey, nil
	case PropMetrics:
		return s.metrics, nil
	case PropProbeTimeout:
		return s.probeTimeout, nil
	}
	return nil, ErrBadPropName
}

// NewSupervisor returns a Supervisor that looks for its artifacts next to
// the running executable and reports to sink.  A nil sink discards.
func NewSupervisor(name string, sink Sink) *Supervisor {
	if name == "" {
		name = DaemonName
	}
	if sink == nil {
		sink = DiscardSink
	}
	return &Supervisor{
		name:         name,
		sink:         sink,
		layout:       ExecutableLayout(),
		stopAttempts: DefaultStopAttempts,
		stopInterval: DefaultStopInterval,
		keyType:      DefaultKeyType,
		probeTimeout: DefaultProbeTimeout,
	}
}
