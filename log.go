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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a bounded ring of the most recent lines a Manager has seen.
// The zero value is ready to use; NewLog also seeds the ID from the
// clock, so that etags differ across restarts.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

// setup allocates storage on first use.  Call with lock held.
func (log *Log) setup() {
	if log.maxRecords == 0 {
		log.maxRecords = MaxLogRecords
	}
	if log.records == nil {
		log.records = make([]LogRecord, log.maxRecords)
	}
	if log.cvs == nil {
		log.cvs = make(map[*sync.Cond]bool)
	}
}

// append stores one line.  Call with lock held.
func (log *Log) append(line string) {
	log.setup()
	idx := log.numRecords % log.maxRecords
	log.id++
	log.records[idx].Text = line
	log.records[idx].Id = log.id
	log.records[idx].Time = time.Now()
	// NB: numRecords may actually be more than maxRecords.
	// In that case, we've looped, but we use this really to
	// track the next index.
	log.numRecords++
}

func (log *Log) wakeUp() {
	for cv := range log.cvs {
		cv.Broadcast()
	}
}

// Line stores a single record.  It has the Sink signature.
func (log *Log) Line(text string) {
	log.lock()
	log.append(text)
	log.wakeUp()
	log.unlock()
}

// Write implements the Writer interface consumed by Logger.  Each
// newline separated line becomes its own record.
func (log *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	log.lock()
	for _, line := range strings.Split(str, "\n") {
		log.append(line)
	}
	log.wakeUp()
	log.unlock()
	return len(b), nil
}

func (log *Log) Clear() {
	log.lock()
	log.numRecords = 0
	// We presume that we cannot add new records more quickly than
	// once every nanosecond.
	log.id = time.Now().UnixNano()
	log.wakeUp()
	log.unlock()
}

// span returns the number of retained records and the index of the
// oldest one.  Call with lock held.
func (log *Log) span() (int, int) {
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	return cnt, log.numRecords - cnt
}

// GetRecords returns the records that are stored, as well as an ID
// suitable for use as an Etag.  The last parameter can be the last ID
// that was checked, in which case this function will return nil immediately
// if the log has not changed since that ID was returned, without duplicating
// any records.  These IDs are suitable for use as an Etag in REST APIs.
// Note that IDs are not unique across different Log instances.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	cnt, index := log.span()
	recs := make([]LogRecord, 0, cnt)
	for j := 0; j < cnt; j++ {
		recs = append(recs, log.records[index%log.maxRecords])
		index++
	}
	return recs, log.id
}

// RecordsSince returns only the retained records with an ID greater than
// id, oldest first, along with the current ID.  Records that have already
// rotated out of the ring are silently skipped.
func (log *Log) RecordsSince(id int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	var recs []LogRecord
	cnt, index := log.span()
	for j := 0; j < cnt; j++ {
		r := log.records[index%log.maxRecords]
		if r.Id > id {
			recs = append(recs, r)
		}
		index++
	}
	return recs, log.id
}

// Watch waits until the log ID differs from last, or until expire has
// passed, and returns the current ID.  A zero expire polls.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.lock()
			expired = true
			cv.Broadcast()
			log.unlock()
		})
	} else {
		expired = true
	}

	log.lock()
	log.setup()
	log.cvs[cv] = true
	for {
		if log.id != last || expired {
			break
		}
		cv.Wait()
	}
	delete(log.cvs, cv)
	if log.id != last {
		last = log.id
	}
	log.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log instance.
func NewLog() *Log {
	log := &Log{
		maxRecords: MaxLogRecords,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
	log.records = make([]LogRecord, log.maxRecords)
	return log
}
