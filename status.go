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
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Status is a point in time snapshot of a Supervisor.  When no daemon is
// running, the fields describing a child refer to the one most recently
// stopped, if any.
type Status struct {
	Name           string        `json:"name"`
	Run            string        `json:"run,omitempty"`
	Running        bool          `json:"running"`
	Pid            int           `json:"pid,omitempty"`
	Started        time.Time     `json:"started"`
	Uptime         time.Duration `json:"uptime,omitempty"`
	Exited         bool          `json:"exited"`
	ExitStatus     string        `json:"exitStatus,omitempty"`
	Forced         bool          `json:"forced"`
	StreamOpen     bool          `json:"streamOpen"`
	HostKey        string        `json:"hostKey"`
	HostKeyPresent bool          `json:"hostKeyPresent"`
	RSS            uint64        `json:"rss,omitempty"`
	CPUPercent     float64       `json:"cpuPercent,omitempty"`
	Sessions       int           `json:"sessions"`
}

func (s *Supervisor) Status() Status {
	s.lock.Lock()
	st := Status{
		Name:       s.name,
		HostKey:    s.layout.HostKeyPath(),
		Forced:     s.forced,
		StreamOpen: s.stream != nil,
	}
	c := s.child
	if c == nil {
		c = s.last
	}
	if c != nil {
		st.Run = c.run
		st.Pid = c.pid()
		st.Started = c.started
		if c.exited() {
			st.Exited = true
			st.ExitStatus = describeExit(c.state, c.err)
		} else {
			st.Running = true
			st.Uptime = time.Since(c.started)
		}
	}
	s.lock.Unlock()

	st.HostKeyPresent = fileExists(st.HostKey)
	if st.Running {
		sampleProcess(&st)
	}
	return st
}

// sampleProcess fills in resource usage.  Each of these is best effort;
// the daemon may exit at any moment, and some platforms lack support.
func sampleProcess(st *Status) {
	p, e := process.NewProcess(int32(st.Pid))
	if e != nil {
		return
	}
	if mi, e := p.MemoryInfo(); e == nil {
		st.RSS = mi.RSS
	}
	if cpu, e := p.CPUPercent(); e == nil {
		st.CPUPercent = cpu
	}
	// dropbear forks one child per session.
	if kids, e := p.Children(); e == nil {
		st.Sessions = len(kids)
	}
}
