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

// Sink receives one line of text at a time.  Daemon output, operational
// messages and error reports all travel the same way; it is up to the
// receiver to decide how to present them.  A Sink is called with the
// Supervisor's lock held, and so must never call back into it.
type Sink func(line string)

// DiscardSink drops everything.
func DiscardSink(string) {}

