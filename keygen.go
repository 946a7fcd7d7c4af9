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
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// EnsureHostKey makes sure a host key exists at the layout's host key
// path, running dropbearkey to create one if it does not.  An existing
// file is trusted as is; it is never validated or replaced.
func (s *Supervisor) EnsureHostKey() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ensureHostKey()
}

func (s *Supervisor) ensureHostKey() error {
	keyPath := s.layout.HostKeyPath()
	if fileExists(keyPath) {
		s.logf("Using existing host key: %s", keyPath)
		s.metrics.keygen("existing")
		return nil
	}
	if e := s.generateHostKey(keyPath); e != nil {
		s.metrics.keygen("failed")
		return e
	}
	s.metrics.keygen("generated")
	return nil
}

func (s *Supervisor) generateHostKey(keyPath string) error {
	keygen := s.layout.KeygenPath()
	if !isExecutable(keygen) {
		s.logf("dropbearkey not found or not executable at: %s", keygen)
		return fmt.Errorf("%w: %s", ErrKeygenNotFound, keygen)
	}
	s.logf("Generating %s host key (first run may take a while)...",
		strings.ToUpper(s.keyType))

	cmd := &exec.Cmd{
		Path: keygen,
		Args: []string{KeygenName, "-t", s.keyType, "-f", keyPath},
	}
	out, e := cmd.CombinedOutput()

	// Whatever the helper printed goes to the sink as well, so that
	// a failure can be diagnosed from there.
	var lb lineBuffer
	lb.feed(out, s.sink)
	lb.flush(s.sink)

	if e != nil {
		var ee *exec.ExitError
		switch {
		case errors.As(e, &ee):
			s.logf("dropbearkey exited with error: %v", ee)
			return fmt.Errorf("%w: %v", ErrKeygenFailure, ee)
		case cmd.Process == nil:
			s.logf("spawning dropbearkey failed: %v", e)
			return fmt.Errorf("%w: %v", ErrSpawnFailure, e)
		default:
			s.logf("waiting for dropbearkey failed: %v", e)
			return fmt.Errorf("%w: %v", ErrKeygenFailure, e)
		}
	}
	s.logf("Host key generated at: %s", keyPath)
	return nil
}
