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
	"os"
	"path/filepath"
	"strings"
)

// Names of the artifacts that are bundled next to the supervising program.
const (
	DaemonName  = "dropbear"
	KeygenName  = "dropbearkey"
	HostKeyName = "dropbear_rsa_host_key"
)

const sep = string(os.PathSeparator)

// Layout describes where the bundled daemon, its key helper, and the
// generated host key live.  All three are co-located in a single
// directory.  The zero value refers to the current directory.
type Layout struct {
	Base string
}

// ExecutableLayout returns the Layout rooted at the directory holding the
// running executable.  If that cannot be determined, the current
// directory is used instead.
func ExecutableLayout() Layout {
	exe, e := os.Executable()
	if e != nil {
		return Layout{Base: "." + sep}
	}
	if resolved, e := filepath.EvalSymlinks(exe); e == nil {
		exe = resolved
	}
	idx := strings.LastIndex(exe, sep)
	if idx < 0 {
		return Layout{Base: "." + sep}
	}
	return Layout{Base: exe[:idx+1]}
}

// BaseDir returns the directory, always terminated by exactly one path
// separator.
func (l Layout) BaseDir() string {
	base := l.Base
	if base == "" {
		return "." + sep
	}
	trimmed := strings.TrimRight(base, sep)
	if trimmed == "" {
		// The root directory.
		return sep
	}
	return trimmed + sep
}

func (l Layout) DaemonPath() string {
	return l.BaseDir() + DaemonName
}

func (l Layout) KeygenPath() string {
	return l.BaseDir() + KeygenName
}

func (l Layout) HostKeyPath() string {
	return l.BaseDir() + HostKeyName
}

// BaseDir returns the directory containing the running executable.
func BaseDir() string {
	return ExecutableLayout().BaseDir()
}

// DaemonPath returns the location of the bundled daemon binary.
func DaemonPath() string {
	return ExecutableLayout().DaemonPath()
}

// KeygenPath returns the location of the bundled key generation helper.
func KeygenPath() string {
	return ExecutableLayout().KeygenPath()
}

// HostKeyPath returns the location of the persisted host key.
func HostKeyPath() string {
	return ExecutableLayout().HostKeyPath()
}

func fileExists(path string) bool {
	_, e := os.Stat(path)
	return e == nil
}

// isExecutable reports whether path names a regular file with the owner
// execute bit set.
func isExecutable(path string) bool {
	info, e := os.Stat(path)
	if e != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0100 != 0
}
