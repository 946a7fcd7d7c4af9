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
	"fmt"
	"log"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("The log ring", t, func() {
		l := NewLog()
		recs, id := l.GetRecords(0)
		So(recs, ShouldBeEmpty)

		Convey("Records come back in order", func() {
			l.Line("one")
			l.Write([]byte("two\nthree\n"))
			recs, id2 := l.GetRecords(id)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[2].Text, ShouldEqual, "three")
			So(id2, ShouldNotEqual, id)

			Convey("An unchanged id returns nothing", func() {
				recs, id3 := l.GetRecords(id2)
				So(recs, ShouldBeNil)
				So(id3, ShouldEqual, id2)
			})

			Convey("RecordsSince skips what was seen", func() {
				recs, _ := l.RecordsSince(recs[0].Id)
				So(len(recs), ShouldEqual, 2)
				So(recs[0].Text, ShouldEqual, "two")
			})
		})

		Convey("Old records rotate out", func() {
			for i := 0; i < MaxLogRecords+10; i++ {
				l.Line(fmt.Sprintf("line %d", i))
			}
			recs, _ := l.GetRecords(0)
			So(len(recs), ShouldEqual, MaxLogRecords)
			So(recs[0].Text, ShouldEqual, "line 10")
			So(recs[len(recs)-1].Text, ShouldEqual, fmt.Sprintf("line %d", MaxLogRecords+9))
		})

		Convey("Clear empties the ring", func() {
			l.Line("gone")
			l.Clear()
			recs, _ := l.GetRecords(0)
			So(recs, ShouldBeEmpty)
		})

		Convey("A zero Log works without NewLog", func() {
			var z Log
			z.Line("first")
			z.Write([]byte("second\n"))
			recs, zid := z.GetRecords(-1)
			So(len(recs), ShouldEqual, 2)
			So(recs[1].Text, ShouldEqual, "second")
			So(z.Watch(zid, 0), ShouldEqual, zid)
		})

		Convey("Watch wakes on new records", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				l.Line("wake")
			}()
			nid := l.Watch(id, 5*time.Second)
			So(nid, ShouldNotEqual, id)
		})

		Convey("Watch times out", func() {
			begin := time.Now()
			So(l.Watch(id, 30*time.Millisecond), ShouldEqual, id)
			So(time.Since(begin), ShouldBeGreaterThanOrEqualTo, 30*time.Millisecond)
		})
	})
}

func TestMultiLogger(t *testing.T) {
	Convey("MultiLogger fan-out", t, func() {
		ml := NewMultiLogger()
		var a, b bytes.Buffer
		la := log.New(&a, "a: ", 0)
		lb := log.New(&b, "b: ", 0)
		ml.AddLogger(la)
		ml.AddLogger(lb)
		ml.AddLogger(la)
		So(ml.Len(), ShouldEqual, 2)

		ml.Line("hello")
		So(a.String(), ShouldEqual, "a: hello\n")
		So(b.String(), ShouldEqual, "b: hello\n")

		ml.DelLogger(lb)
		ml.Logger().Printf("x=%d", 1)
		So(a.String(), ShouldEqual, "a: hello\na: x=1\n")
		So(b.String(), ShouldEqual, "b: hello\n")
	})
}
