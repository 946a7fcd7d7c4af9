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
	"log"
	"sync"
	"time"
)

// DefaultTick is how often the Manager drains the daemon's output.
const DefaultTick = 16 * time.Millisecond

// Manager drives a single Supervisor on behalf of a long running program.
// It drains the daemon's output on a fixed tick, retains recent lines in a
// Log, and fans them out to any registered loggers.  Every state change
// bumps a serial number that remote clients can watch.
type Manager struct {
	name       string
	sup        *Supervisor
	logger     *log.Logger
	log        *Log
	mlog       *MultiLogger
	tick       time.Duration
	running    bool
	serial     int64
	createTime time.Time
	updateTime time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
	once       sync.Once
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string
	Serial     int64
	UpdateTime time.Time
	CreateTime time.Time
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

func (m *Manager) wakeUp() {
	// NB: If the lock is not held here, then there is a risk
	// that the woken goroutines won't see the updated serial number!!
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.
// Call with lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	m.wakeUp()
	return m.serial
}

func (m *Manager) changed() {
	running := m.sup.Running()
	m.lock()
	m.running = running
	m.bumpSerial()
	m.unlock()
}

// WatchSerial waits for the serial number to differ from old, and returns
// the new one.  If the serial number has not changed in the given duration
// then the old value is returned.  A poll can be done by supplying 0 for
// the expiration.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&m.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
	} else {
		expired = true
	}

	m.lock()
	m.cvs[cv] = true
	for {
		rv = m.serial
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(m.cvs, cv)
	m.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Serial returns the current serial number.  This is incremented
// anytime the daemon changes state.
func (m *Manager) Serial() int64 {
	m.lock()
	rv := m.serial
	m.unlock()
	return rv
}

func (m *Manager) Name() string {
	return m.name
}

// Supervisor returns the underlying Supervisor, for configuration.
func (m *Manager) Supervisor() *Supervisor {
	return m.sup
}

// GetInfo returns top-level information about the Manager.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	i := &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
	m.unlock()
	return i
}

// SetLogger adds a logger that receives every line, replacing any set
// by an earlier call.  The Manager's own Log is unaffected.
func (m *Manager) SetLogger(l *log.Logger) {
	m.lock()
	if m.logger != nil {
		m.mlog.DelLogger(m.logger)
	}
	m.logger = l
	if l != nil {
		m.mlog.AddLogger(l)
	}
	m.unlock()
}

// SetTick changes the drain interval.  It takes effect on the next tick.
func (m *Manager) SetTick(d time.Duration) {
	if d <= 0 {
		d = DefaultTick
	}
	m.lock()
	m.tick = d
	m.unlock()
}

func (m *Manager) tickInterval() time.Duration {
	m.lock()
	defer m.unlock()
	return m.tick
}

func (m *Manager) logf(format string, v ...interface{}) {
	m.mlog.Logger().Printf(format, v...)
}

func (m *Manager) monitor() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.tickInterval()):
		}
		m.sup.Drain()

		// A daemon that dies on its own is a state change too.
		running := m.sup.Running()
		m.lock()
		if running != m.running {
			m.running = running
			m.bumpSerial()
		}
		m.unlock()
	}
}

// Start starts the daemon.
func (m *Manager) Start() error {
	e := m.sup.Start()
	if e == nil {
		st := m.sup.Status()
		m.logf("*** %s: dropbear running, pid %d, run %s ***",
			m.name, st.Pid, st.Run)
	}
	m.changed()
	return e
}

// Stop stops the daemon.
func (m *Manager) Stop() {
	m.sup.Stop()
	m.logf("*** %s: dropbear stopped ***", m.name)
	m.changed()
}

// Restart stops the daemon if needed and starts a new one.
func (m *Manager) Restart() error {
	e := m.sup.Restart()
	m.changed()
	return e
}

// Check verifies the daemon is alive and, when it has a listen address,
// answering as an SSH server.
func (m *Manager) Check() error {
	return m.sup.Check()
}

func (m *Manager) Probe(ctx context.Context) (*ProbeResult, error) {
	return m.sup.Probe(ctx)
}

func (m *Manager) Status() Status {
	return m.sup.Status()
}

// Shutdown stops the tick loop, collects any last output, and closes the
// Supervisor.  The Manager cannot be restarted afterwards.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		m.sup.Drain()
		m.sup.Close()
		m.logf("*** %s: shut down ***", m.name)
		m.changed()
	})
}

func (m *Manager) GetLog(lastid int64) ([]LogRecord, int64) {
	return m.log.GetRecords(lastid)
}

func (m *Manager) LogSince(id int64) ([]LogRecord, int64) {
	return m.log.RecordsSince(id)
}

func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	return m.log.Watch(old, expire)
}

// NewManager creates a Manager around a fresh Supervisor, and starts
// draining.  The daemon itself is not started.
func NewManager(name string) *Manager {
	if name == "" {
		name = "dropvisor"
	}
	// The origin serial number is the current time in nsec, so that a
	// client caching against a restarted server sees a change.
	m := &Manager{
		name:   name,
		serial: time.Now().UnixNano(),
		tick:   DefaultTick,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		cvs:    make(map[*sync.Cond]bool),
	}
	m.createTime = time.Now()
	m.updateTime = m.createTime
	m.log = NewLog()
	m.mlog = NewMultiLogger()
	m.mlog.AddLogger(log.New(m.log, "", 0))
	m.sup = NewSupervisor(name, m.mlog.Line)
	go m.monitor()
	return m
}
