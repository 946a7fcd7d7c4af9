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

// Package dropvisor supervises a bundled dropbear SSH server.
//
// The dropbear binary, its key generation helper dropbearkey, and the host
// key it uses are all expected to live side by side, by default in the
// directory holding the running executable.  A Supervisor provisions the
// host key on first start, launches dropbear in the foreground with its
// log going to a pipe, and relays that output a line at a time to a Sink
// whenever Drain is called.  Stop asks the daemon to terminate, and kills
// it if it will not.
//
// A Manager wraps a Supervisor for long running programs: it calls Drain
// on a fixed tick, keeps recent lines in a Log, and exposes serial numbers
// that the rest package uses to implement watches.
//
// This package relies on POSIX pipes and signals, and is not supported
// on Windows.
package dropvisor
