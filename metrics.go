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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters a Supervisor maintains.  A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Starts        prometheus.Counter
	StartFailures prometheus.Counter
	LogLines      prometheus.Counter
	Stops         *prometheus.CounterVec // mode: graceful, forced
	Keygen        *prometheus.CounterVec // result: existing, generated, failed
}

// NewMetrics creates the collectors, labelled with the given supervisor
// name, and registers them with reg (if not nil).
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	labels := prometheus.Labels{"supervisor": name}
	m := &Metrics{
		Starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dropvisor",
			Name:        "starts_total",
			Help:        "Daemon processes successfully spawned",
			ConstLabels: labels,
		}),
		StartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dropvisor",
			Name:        "start_failures_total",
			Help:        "Start attempts that did not produce a daemon",
			ConstLabels: labels,
		}),
		LogLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dropvisor",
			Name:        "log_lines_total",
			Help:        "Daemon output lines forwarded to the sink",
			ConstLabels: labels,
		}),
		Stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "dropvisor",
			Name:        "stops_total",
			Help:        "Daemon terminations by mode",
			ConstLabels: labels,
		}, []string{"mode"}),
		Keygen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "dropvisor",
			Name:        "keygen_total",
			Help:        "Host key provisioning outcomes",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Starts, m.StartFailures, m.LogLines, m.Stops, m.Keygen)
	}
	return m
}

func (m *Metrics) started() {
	if m != nil {
		m.Starts.Inc()
	}
}

func (m *Metrics) startFailed() {
	if m != nil {
		m.StartFailures.Inc()
	}
}

func (m *Metrics) lines(n int) {
	if m != nil && n > 0 {
		m.LogLines.Add(float64(n))
	}
}

func (m *Metrics) stopped(forced bool) {
	if m == nil {
		return
	}
	if forced {
		m.Stops.WithLabelValues("forced").Inc()
	} else {
		m.Stops.WithLabelValues("graceful").Inc()
	}
}

func (m *Metrics) keygen(result string) {
	if m != nil {
		m.Keygen.WithLabelValues(result).Inc()
	}
}
