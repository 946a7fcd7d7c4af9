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

//go:build unix

package dropvisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v3/process"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSupervisorMissingBinary(t *testing.T) {
	Convey("Starting without a daemon binary", t, func() {
		s, c, dir := newTestSupervisor(t, "", true)
		m := NewMetrics(nil, "test")
		So(s.SetProperty(PropMetrics, m), ShouldBeNil)

		e := s.Start()
		So(errors.Is(e, ErrBinaryNotFound), ShouldBeTrue)
		So(s.Running(), ShouldBeFalse)
		So(s.Pid(), ShouldEqual, 0)
		So(c.index("dropbear not found or not executable at: "+
			filepath.Join(dir, DaemonName)), ShouldBeGreaterThanOrEqualTo, 0)
		So(testutil.ToFloat64(m.StartFailures), ShouldEqual, 1)
		So(testutil.ToFloat64(m.Starts), ShouldEqual, 0)

		Convey("A file without the exec bit is also refused", func() {
			path := filepath.Join(dir, DaemonName)
			So(os.WriteFile(path, []byte("#!/bin/sh\n"), 0644), ShouldBeNil)
			So(errors.Is(s.Start(), ErrBinaryNotFound), ShouldBeTrue)
			So(s.Running(), ShouldBeFalse)
		})

		Convey("Stop and Drain are harmless", func() {
			s.Stop()
			So(s.Drain(), ShouldBeNil)
			So(s.Running(), ShouldBeFalse)
		})
	})
}

func TestSupervisorStartStop(t *testing.T) {
	Convey("Start and gracefully stop a daemon", t, func() {
		s, c, dir := newTestSupervisor(t, chattyDaemon, true)
		m := NewMetrics(nil, "test")
		So(s.SetProperty(PropMetrics, m), ShouldBeNil)

		So(s.Start(), ShouldBeNil)
		So(s.Running(), ShouldBeTrue)
		pid := s.Pid()
		So(pid, ShouldBeGreaterThan, 0)
		So(testutil.ToFloat64(m.Starts), ShouldEqual, 1)

		So(c.has("Using existing host key: "+filepath.Join(dir, HostKeyName)), ShouldBeTrue)
		So(c.has("starting bundled dropbear at: "+filepath.Join(dir, DaemonName)), ShouldBeTrue)

		ok := drainUntil(s, 2*time.Second, func() bool {
			return c.index("line one") >= 0 && c.index("line two") >= 0
		})
		So(ok, ShouldBeTrue)
		So(c.index("line one"), ShouldBeLessThan, c.index("line two"))
		So(testutil.ToFloat64(m.LogLines), ShouldEqual, 2)

		Convey("Starting again is refused", func() {
			So(s.Start(), ShouldEqual, ErrAlreadyRunning)
			So(s.Pid(), ShouldEqual, pid)
		})

		Convey("Stop terminates and reaps it", func() {
			s.Stop()
			So(s.Running(), ShouldBeFalse)
			So(s.Pid(), ShouldEqual, 0)
			alive, _ := process.PidExists(int32(pid))
			So(alive, ShouldBeFalse)
			So(testutil.ToFloat64(m.Stops.WithLabelValues("graceful")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.Stops.WithLabelValues("forced")), ShouldEqual, 0)

			st := s.Status()
			So(st.Running, ShouldBeFalse)
			So(st.Exited, ShouldBeTrue)
			So(st.Forced, ShouldBeFalse)
			So(st.StreamOpen, ShouldBeFalse)
			So(st.Pid, ShouldEqual, pid)

			Convey("A second Stop does nothing", func() {
				s.Stop()
				So(testutil.ToFloat64(m.Stops.WithLabelValues("graceful")), ShouldEqual, 1)
			})

			Convey("It can be started again", func() {
				So(s.Start(), ShouldBeNil)
				So(s.Pid(), ShouldNotEqual, pid)
				s.Stop()
			})
		})

		Convey("Close stops it, and may be repeated", func() {
			So(s.Close(), ShouldBeNil)
			So(s.Running(), ShouldBeFalse)
			So(s.Close(), ShouldBeNil)
			alive, _ := process.PidExists(int32(pid))
			So(alive, ShouldBeFalse)
		})

		Convey("Restart replaces the daemon", func() {
			So(s.Restart(), ShouldBeNil)
			So(s.Running(), ShouldBeTrue)
			So(s.Pid(), ShouldNotEqual, pid)
			alive, _ := process.PidExists(int32(pid))
			So(alive, ShouldBeFalse)
			s.Stop()
		})
	})
}

func TestSupervisorForcedStop(t *testing.T) {
	Convey("A daemon ignoring SIGTERM is killed", t, func() {
		s, c, _ := newTestSupervisor(t, stubbornDaemon, true)
		m := NewMetrics(nil, "test")
		So(s.SetProperty(PropMetrics, m), ShouldBeNil)
		So(s.SetProperty(PropStopAttempts, 5), ShouldBeNil)
		So(s.SetProperty(PropStopInterval, 10*time.Millisecond), ShouldBeNil)

		So(s.Start(), ShouldBeNil)
		pid := s.Pid()

		// Make sure the trap is installed before signalling.
		So(drainUntil(s, 2*time.Second, func() bool {
			return c.has("not going")
		}), ShouldBeTrue)

		begin := time.Now()
		s.Stop()
		So(time.Since(begin), ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
		So(time.Since(begin), ShouldBeLessThan, 2*time.Second)

		So(s.Running(), ShouldBeFalse)
		alive, _ := process.PidExists(int32(pid))
		So(alive, ShouldBeFalse)
		So(testutil.ToFloat64(m.Stops.WithLabelValues("forced")), ShouldEqual, 1)
		So(s.Status().Forced, ShouldBeTrue)
		So(c.has("did not exit after SIGTERM"), ShouldBeTrue)
	})
}

func TestSupervisorArguments(t *testing.T) {
	Convey("The daemon command line", t, func() {
		s, c, dir := newTestSupervisor(t, argsDaemon, true)
		So(s.SetProperty(PropListenAddr, "2222"), ShouldBeNil)
		So(s.SetProperty(PropExtraArgs, []string{"-w", "-s"}), ShouldBeNil)
		So(s.Start(), ShouldBeNil)

		want := "ARGS -E -F -r " + filepath.Join(dir, HostKeyName) + " -p 2222 -w -s"
		So(drainUntil(s, 2*time.Second, func() bool {
			return c.has("dropbear exited")
		}), ShouldBeTrue)
		So(c.index(want), ShouldBeGreaterThanOrEqualTo, 0)

		Convey("The exit is reported once, after the output", func() {
			So(c.index(want), ShouldBeLessThan, c.index("dropbear exited: exit status 0"))
			s.Drain()
			s.Drain()
			n := 0
			for _, l := range c.get() {
				if l == "dropbear exited: exit status 0" {
					n++
				}
			}
			So(n, ShouldEqual, 1)
			So(s.Running(), ShouldBeFalse)
			So(s.Status().StreamOpen, ShouldBeFalse)
			So(errors.Is(s.Check(), ErrNotRunning), ShouldBeTrue)
		})
	})
}

func TestSupervisorPartialLine(t *testing.T) {
	Convey("Trailing output without a newline is flushed at end of stream", t, func() {
		s, c, _ := newTestSupervisor(t, partialDaemon, true)
		So(s.Start(), ShouldBeNil)
		So(drainUntil(s, 2*time.Second, func() bool {
			return c.index("no newline") >= 0
		}), ShouldBeTrue)
	})
}

func TestSupervisorExecFailure(t *testing.T) {
	Convey("An exit status of 127 is called out", t, func() {
		s, c, _ := newTestSupervisor(t, "exit 127\n", true)
		So(s.Start(), ShouldBeNil)
		So(drainUntil(s, 2*time.Second, func() bool {
			return c.has("could not execute daemon image")
		}), ShouldBeTrue)
		st := s.Status()
		So(st.Exited, ShouldBeTrue)
		So(st.ExitStatus, ShouldContainSubstring, "127")
	})
}

// openFds counts this process's open descriptors, or returns -1 where
// that cannot be seen.
func openFds() int {
	ents, e := os.ReadDir("/proc/self/fd")
	if e != nil {
		return -1
	}
	return len(ents)
}

func TestSupervisorSpawnFailure(t *testing.T) {
	Convey("A daemon that is executable but not a program", t, func() {
		s, c, dir := newTestSupervisor(t, "", true)
		path := filepath.Join(dir, DaemonName)
		So(os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03, 0xfe, 0xff}, 0755), ShouldBeNil)
		m := NewMetrics(nil, "test")
		So(s.SetProperty(PropMetrics, m), ShouldBeNil)

		before := openFds()
		e := s.Start()
		So(errors.Is(e, ErrSpawnFailure), ShouldBeTrue)
		So(s.Pid(), ShouldEqual, 0)
		So(s.Running(), ShouldBeFalse)
		So(s.Status().StreamOpen, ShouldBeFalse)
		So(c.has("spawning dropbear failed:"), ShouldBeTrue)

		Convey("Retrying fails the same way and leaks nothing", func() {
			for i := 0; i < 5; i++ {
				So(errors.Is(s.Start(), ErrSpawnFailure), ShouldBeTrue)
				So(s.Pid(), ShouldEqual, 0)
			}
			So(testutil.ToFloat64(m.StartFailures), ShouldEqual, 6)
			So(testutil.ToFloat64(m.Starts), ShouldEqual, 0)
			if before >= 0 {
				So(openFds(), ShouldEqual, before)
			}
			s.Stop()
			So(s.Drain(), ShouldBeNil)
		})
	})
}

func TestSupervisorReadError(t *testing.T) {
	Convey("A failing read on the output stream", t, func() {
		s, c, _ := newTestSupervisor(t, chattyDaemon, true)
		So(s.Start(), ShouldBeNil)

		// Release the descriptor behind the supervisor's back, so the
		// next read fails with EBADF.
		s.lock.Lock()
		s.stream.close()
		s.lock.Unlock()

		e := s.Drain()
		So(errors.Is(e, ErrReadError), ShouldBeTrue)

		n := 0
		for _, l := range c.get() {
			if strings.HasPrefix(l, "read error:") {
				n++
			}
		}
		So(n, ShouldEqual, 1)

		st := s.Status()
		So(st.StreamOpen, ShouldBeTrue)
		So(st.Running, ShouldBeTrue)

		s.Stop()
		So(s.Running(), ShouldBeFalse)
		So(s.Status().StreamOpen, ShouldBeFalse)
	})
}

func TestSupervisorHostKeyPolicy(t *testing.T) {
	Convey("Starting without a host key or helper", t, func() {
		s, c, _ := newTestSupervisor(t, chattyDaemon, false)

		Convey("Warns and starts anyway by default", func() {
			So(s.Start(), ShouldBeNil)
			So(s.Running(), ShouldBeTrue)
			So(c.has("dropbearkey not found or not executable at:"), ShouldBeTrue)
			So(c.index("WARNING: could not create host key, Dropbear may fail."),
				ShouldBeGreaterThanOrEqualTo, 0)
			s.Stop()
		})

		Convey("Refuses to start when a key is required", func() {
			So(s.SetProperty(PropRequireHostKey, true), ShouldBeNil)
			e := s.Start()
			So(errors.Is(e, ErrKeygenNotFound), ShouldBeTrue)
			So(s.Running(), ShouldBeFalse)
		})
	})
}

func TestSupervisorProperties(t *testing.T) {
	Convey("Supervisor properties", t, func() {
		s, _, dir := newTestSupervisor(t, chattyDaemon, true)

		Convey("Defaults", func() {
			v, e := s.Property(PropStopAttempts)
			So(e, ShouldBeNil)
			So(v, ShouldEqual, DefaultStopAttempts)
			v, e = s.Property(PropStopInterval)
			So(e, ShouldBeNil)
			So(v, ShouldEqual, DefaultStopInterval)
			v, e = s.Property(PropKeyType)
			So(e, ShouldBeNil)
			So(v, ShouldEqual, "rsa")
			v, e = s.Property(PropLayout)
			So(e, ShouldBeNil)
			So(v, ShouldResemble, Layout{Base: dir})
		})

		Convey("Bad names and types are rejected", func() {
			So(s.SetProperty("nonsense", 1), ShouldEqual, ErrBadPropName)
			_, e := s.Property("nonsense")
			So(e, ShouldEqual, ErrBadPropName)
			So(s.SetProperty(PropStopAttempts, "many"), ShouldEqual, ErrBadPropType)
			So(s.SetProperty(PropLayout, dir), ShouldEqual, ErrBadPropType)
		})

		Convey("Bad values are rejected", func() {
			So(s.SetProperty(PropStopAttempts, -1), ShouldEqual, ErrBadPropValue)
			So(s.SetProperty(PropStopInterval, time.Duration(0)), ShouldEqual, ErrBadPropValue)
			So(s.SetProperty(PropKeyType, ""), ShouldEqual, ErrBadPropValue)
		})

		Convey("The command line cannot change while running", func() {
			So(s.Start(), ShouldBeNil)
			So(s.SetProperty(PropListenAddr, "22"), ShouldEqual, ErrPropReadOnly)
			So(s.SetProperty(PropLayout, Layout{}), ShouldEqual, ErrPropReadOnly)
			So(s.SetProperty(PropStopAttempts, 3), ShouldBeNil)
			s.Stop()
			So(s.SetProperty(PropListenAddr, "22"), ShouldBeNil)
		})

		Convey("Extra arguments are copied", func() {
			args := []string{"-w"}
			So(s.SetProperty(PropExtraArgs, args), ShouldBeNil)
			args[0] = "-g"
			v, _ := s.Property(PropExtraArgs)
			So(v, ShouldResemble, []string{"-w"})
		})
	})
}

func TestSupervisorStatus(t *testing.T) {
	Convey("Status of a running daemon", t, func() {
		s, _, dir := newTestSupervisor(t, chattyDaemon, true)

		st := s.Status()
		So(st.Name, ShouldEqual, "test")
		So(st.Running, ShouldBeFalse)
		So(st.Pid, ShouldEqual, 0)
		So(st.HostKey, ShouldEqual, filepath.Join(dir, HostKeyName))
		So(st.HostKeyPresent, ShouldBeTrue)

		So(s.Start(), ShouldBeNil)
		st = s.Status()
		So(st.Running, ShouldBeTrue)
		So(st.Pid, ShouldEqual, s.Pid())
		So(st.Run, ShouldNotBeEmpty)
		So(st.StreamOpen, ShouldBeTrue)
		So(st.Started.IsZero(), ShouldBeFalse)

		run := st.Run
		So(s.Restart(), ShouldBeNil)
		So(s.Status().Run, ShouldNotEqual, run)
		s.Stop()
	})
}
