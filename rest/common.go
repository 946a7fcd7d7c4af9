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

// Package rest exposes a dropvisor Manager over HTTP, and provides a
// client for it.
package rest

import (
	"time"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// A GET carrying these headers is held until the resource's etag
	// differs from PollEtagHeader, or PollTimeHeader seconds pass.
	PollEtagHeader = "X-Dropvisor-Poll-Etag"
	PollTimeHeader = "X-Dropvisor-Poll-Time"

	maxPollTime = 300
)

var ok struct{}

// StatusInfo is the wire form of a supervisor status.
type StatusInfo struct {
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Run            string    `json:"run,omitempty"`
	Running        bool      `json:"running"`
	Pid            int       `json:"pid,omitempty"`
	Started        time.Time `json:"started"`
	UptimeSecs     float64   `json:"uptime,omitempty"`
	ExitStatus     string    `json:"exitStatus,omitempty"`
	Forced         bool      `json:"forced"`
	HostKey        string    `json:"hostKey"`
	HostKeyPresent bool      `json:"hostKeyPresent"`
	RSS            uint64    `json:"rss,omitempty"`
	CPUPercent     float64   `json:"cpuPercent,omitempty"`
	Sessions       int       `json:"sessions"`
	Serial         int64     `json:"serial,string"`
	etag           string
}

// CheckInfo is the result of a health check.
type CheckInfo struct {
	Healthy     bool   `json:"healthy"`
	Message     string `json:"message,omitempty"`
	KeyType     string `json:"keyType,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
