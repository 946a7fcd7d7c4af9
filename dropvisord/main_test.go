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

//go:build unix

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropvisor/dropvisor"
)

type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// A signal that arrives while the daemon is still being started is
// acted on once the start completes, and the daemon is shut down.
func TestServeEarlySignal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, dropvisor.DaemonName),
		[]byte("#!/bin/sh\nwhile :; do sleep 0.05; done\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, dropvisor.HostKeyName), []byte("key\n"), 0600))

	cfg, err := newTestConfig(t, "--addr", "127.0.0.1:0", "--base-dir", dir, "--auth", "admin:pw")
	require.NoError(t, err)
	out := &lockedBuffer{}
	logger, err := newLogger(cfg, out, false)
	require.NoError(t, err)

	sigs := make(chan os.Signal, 1)
	sigs <- syscall.SIGTERM

	done := make(chan error, 1)
	go func() {
		done <- serve(cfg, logger, sigs)
	}()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after a signal")
	}

	log := out.String()
	require.Contains(t, log, "dropbear running")
	require.Contains(t, log, "shutting down")
	require.Contains(t, log, "dropvisord: shut down ***")
}
