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

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type LogInfo struct {
	etag    string
	Records []LogRecord
}

type Client struct {
	user      string // HTTP Basic-Auth
	pass      string
	base      string // URI to root of tree on server
	auth      bool
	client    *http.Client
	transport *http.Transport

	// Cached data
	status *StatusInfo
	log    *LogInfo
	lock   sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.base, "/") + path
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, e := http.NewRequestWithContext(ctx, method, url, body)
	if e != nil {
		return nil, e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

// decodeError turns a failed response into an *Error, preferring the
// message the server sent.
func decodeError(res *http.Response) error {
	e := &Error{}
	if b, err := io.ReadAll(res.Body); err == nil && json.Unmarshal(b, e) == nil && e.Message != "" {
		e.Code = res.StatusCode
		return e
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := c.newRequest(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", decodeError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := c.newRequest(ctx, "POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return decodeError(res)
	}
	return nil
}

func (c *Client) pollStatus(ctx context.Context, secs int, last *StatusInfo) (*StatusInfo, error) {
	v := &StatusInfo{}
	c.lock.Lock()
	cached := c.status
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		// Our cache is already newer than what the caller saw.
		return cached, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url("/status"), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		c.status = nil
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.status = v
	c.lock.Unlock()
	return v, nil
}

// Status fetches the current daemon status.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	return c.pollStatus(ctx, 0, nil)
}

// WatchStatus waits (up to five minutes) for the status to change from
// last, and returns the new one.
func (c *Client) WatchStatus(ctx context.Context, last *StatusInfo) (*StatusInfo, error) {
	return c.pollStatus(ctx, maxPollTime, last)
}

func (c *Client) Start(ctx context.Context) error {
	return c.post(ctx, c.url("/start"))
}

func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, c.url("/stop"))
}

func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, c.url("/restart"))
}

// Check runs a health check.  An unhealthy daemon yields both the
// check details and an error.
func (c *Client) Check(ctx context.Context) (*CheckInfo, error) {
	req, e := c.newRequest(ctx, "GET", c.url("/check"), nil)
	if e != nil {
		return nil, e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	info := &CheckInfo{}
	if e := json.NewDecoder(res.Body).Decode(info); e != nil {
		return nil, &Error{Code: res.StatusCode, Message: res.Status}
	}
	if res.StatusCode != http.StatusOK {
		return info, &Error{Code: res.StatusCode, Message: info.Message}
	}
	return info, nil
}

func (c *Client) pollLog(ctx context.Context, secs int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{}
	otag := ""
	if last == nil {
		secs = 0
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url("/log"), otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		c.log = nil
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.log = v
	c.lock.Unlock()
	return v, nil
}

// GetLog returns the retained log.
func (c *Client) GetLog(ctx context.Context) (*LogInfo, error) {
	return c.pollLog(ctx, 0, nil)
}

// WatchLog waits (up to five minutes) for the log to change from last.
func (c *Client) WatchLog(ctx context.Context, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, maxPollTime, last)
}

// StreamLog follows the log over a websocket, calling fn for every record
// newer than since, until ctx is done or the connection fails.
func (c *Client) StreamLog(ctx context.Context, since int64, fn func(LogRecord)) error {
	url := c.url("/log/stream")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	if since > 0 {
		url += "?since=" + strconv.FormatInt(since, 10)
	}

	hdr := http.Header{}
	if c.auth {
		req, _ := http.NewRequest("GET", url, nil)
		req.SetBasicAuth(c.user, c.pass)
		hdr.Set("Authorization", req.Header.Get("Authorization"))
	}
	dialer := websocket.Dialer{
		Proxy:           c.transport.Proxy,
		TLSClientConfig: c.transport.TLSClientConfig,
	}
	conn, res, e := dialer.DialContext(ctx, url, hdr)
	if e != nil {
		if res != nil {
			return &Error{Code: res.StatusCode, Message: res.Status}
		}
		return e
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var rec LogRecord
		if e := conn.ReadJSON(&rec); e != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(e, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return e
		}
		fn(rec)
	}
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		transport: t,
		base:      baseURI,
		client:    &http.Client{Transport: t},
	}
	return c
}
