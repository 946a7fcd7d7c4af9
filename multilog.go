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
	"log"
	"strings"
	"sync"
)

// MultiLogger fans daemon lines out to any number of standard loggers.
// Each contained logger keeps its own prefix and flags.  It can be used
// both as a Sink (via Line) and as an io.Writer for a log.Logger.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	lock    sync.Mutex
}

// Line delivers one line to every registered logger.
func (l *MultiLogger) Line(text string) {
	l.lock.Lock()
	for _, logger := range l.loggers {
		logger.Println(text)
	}
	l.lock.Unlock()
}

// Write implements io.Writer.  It expects newline delimited text, and
// delivers each line separately.
func (l *MultiLogger) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.Trim(string(b), "\n"), "\n") {
		l.Line(line)
	}
	return len(b), nil
}

// AddLogger adds a logger.  A logger can only be added once.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a logger from the list of destinations.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i, x := range l.loggers {
		if x == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

func (l *MultiLogger) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.loggers)
}

// Logger returns a standard logger that writes through the fan-out.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}
