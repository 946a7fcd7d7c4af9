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
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ProbeResult describes the host key an SSH server presented.
type ProbeResult struct {
	Addr        string `json:"addr"`
	KeyType     string `json:"keyType"`
	Fingerprint string `json:"fingerprint"`
}

// ProbeHostKey connects to addr, completes the SSH key exchange, and
// reports the server's host key.  Authentication is attempted with no
// credentials; its rejection is the expected outcome and not an error.
func ProbeHostKey(ctx context.Context, addr string, timeout time.Duration) (*ProbeResult, error) {
	d := net.Dialer{Timeout: timeout}
	conn, e := d.DialContext(ctx, "tcp", addr)
	if e != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, e)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	var key ssh.PublicKey
	config := &ssh.ClientConfig{
		User: "dropvisor-probe",
		HostKeyCallback: func(_ string, _ net.Addr, k ssh.PublicKey) error {
			key = k
			return nil
		},
		Timeout: timeout,
	}
	sc, chans, reqs, e := ssh.NewClientConn(conn, addr, config)
	if e == nil {
		ssh.NewClient(sc, chans, reqs).Close()
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, e)
	}
	return &ProbeResult{
		Addr:        addr,
		KeyType:     key.Type(),
		Fingerprint: ssh.FingerprintSHA256(key),
	}, nil
}

// probeAddr turns a dropbear -p argument into something we can dial.
// Wildcard and missing hosts become the loopback address.
func probeAddr(listen string) string {
	host, port, e := net.SplitHostPort(listen)
	if e != nil {
		// bare port
		return net.JoinHostPort("127.0.0.1", listen)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
