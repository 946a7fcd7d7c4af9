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
	"bytes"
)

// lineBuffer reassembles newline delimited records from arbitrarily
// chunked input.  Only the most recent incomplete fragment is retained
// between calls.
type lineBuffer struct {
	pending []byte
}

// trimLine strips any trailing carriage returns and newlines.
func trimLine(b []byte) []byte {
	return bytes.TrimRight(b, "\r\n")
}

// feed appends b and hands every complete, non-empty line to emit, in
// order.  A trailing partial line is held until the next call.
func (lb *lineBuffer) feed(b []byte, emit func(string)) int {
	lb.pending = append(lb.pending, b...)
	n := 0
	start := 0
	for {
		idx := bytes.IndexByte(lb.pending[start:], '\n')
		if idx < 0 {
			break
		}
		if line := trimLine(lb.pending[start : start+idx]); len(line) != 0 {
			emit(string(line))
			n++
		}
		start += idx + 1
	}
	if start > 0 {
		// Keep only the incomplete fragment.
		rest := copy(lb.pending, lb.pending[start:])
		lb.pending = lb.pending[:rest]
	}
	return n
}

// flush emits whatever fragment remains, and clears the buffer.
func (lb *lineBuffer) flush(emit func(string)) int {
	n := 0
	if line := trimLine(lb.pending); len(line) != 0 {
		emit(string(line))
		n++
	}
	lb.reset()
	return n
}

func (lb *lineBuffer) reset() {
	lb.pending = lb.pending[:0]
}

func (lb *lineBuffer) len() int {
	return len(lb.pending)
}
