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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/dropvisor/dropvisor"
)

const (
	writeWait  = 10 * time.Second
	streamPoll = time.Second
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m        *dropvisor.Manager
	r        *mux.Router
	upgrader websocket.Upgrader

	// HTTP Basic-Auth credentials; when user is empty anyone may connect.
	user     string
	pass     string
	authLock sync.Mutex
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonCode(w, http.StatusOK, v)
}

func (h *Handler) writeJsonCode(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJsonCode(w, e.Code, e)
}

// failure maps a supervisor error onto an HTTP error.
func failure(e error) *Error {
	code := http.StatusBadRequest
	switch {
	case errors.Is(e, dropvisor.ErrAlreadyRunning),
		errors.Is(e, dropvisor.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(e, dropvisor.ErrProbeFailed):
		code = http.StatusServiceUnavailable
	}
	return &Error{Code: code, Message: e.Error()}
}

func etagOf(id int64) string {
	return fmt.Sprintf(`"%d"`, id)
}

func parseEtag(tag string) int64 {
	v, _ := strconv.ParseInt(strings.Trim(tag, `"`), 10, 64)
	return v
}

// pollParams returns the etag and wait time for a long poll, if requested.
func pollParams(r *http.Request) (int64, time.Duration) {
	tag := r.Header.Get(PollEtagHeader)
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if tag == "" || e != nil || secs <= 0 {
		return 0, 0
	}
	if secs > maxPollTime {
		secs = maxPollTime
	}
	return parseEtag(tag), time.Duration(secs) * time.Second
}

func statusInfo(st dropvisor.Status, serial int64) *StatusInfo {
	info := &StatusInfo{
		Name:           st.Name,
		Run:            st.Run,
		Running:        st.Running,
		Pid:            st.Pid,
		Started:        st.Started,
		UptimeSecs:     st.Uptime.Seconds(),
		ExitStatus:     st.ExitStatus,
		Forced:         st.Forced,
		HostKey:        st.HostKey,
		HostKeyPresent: st.HostKeyPresent,
		RSS:            st.RSS,
		CPUPercent:     st.CPUPercent,
		Sessions:       st.Sessions,
		Serial:         serial,
	}
	switch {
	case st.Running:
		info.Status = "running"
	case st.Pid == 0:
		info.Status = "idle"
	default:
		info.Status = "stopped"
	}
	return info
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	serial := h.m.Serial()
	if old, wait := pollParams(r); wait > 0 && old == serial {
		serial = h.m.WatchSerial(serial, wait)
	}
	etag := etagOf(serial)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", etag)
	h.writeJson(w, statusInfo(h.m.Status(), serial))
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if e := h.m.Start(); e != nil {
		h.writeError(w, failure(e))
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	h.m.Stop()
	h.writeJson(w, ok)
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	if e := h.m.Restart(); e != nil {
		h.writeError(w, failure(e))
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	res, e := h.m.Probe(r.Context())
	if e != nil {
		h.writeJsonCode(w, failure(e).Code, &CheckInfo{Message: e.Error()})
		return
	}
	info := &CheckInfo{Healthy: true}
	if res != nil {
		info.KeyType = res.KeyType
		info.Fingerprint = res.Fingerprint
	}
	h.writeJson(w, info)
}

func logRecords(recs []dropvisor.LogRecord) []LogRecord {
	out := make([]LogRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, LogRecord{Id: r.Id, Time: r.Time, Text: r.Text})
	}
	return out
}

// getLog returns retained log records.  With ?since=<id> only newer
// records are returned; otherwise the whole ring is, subject to the
// usual etag checks.
func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	if old, wait := pollParams(r); wait > 0 {
		h.m.WatchLog(old, wait)
	}

	if s := r.URL.Query().Get("since"); s != "" {
		since, e := strconv.ParseInt(s, 10, 64)
		if e != nil {
			h.writeError(w, &Error{http.StatusBadRequest, "Bad since parameter"})
			return
		}
		recs, id := h.m.LogSince(since)
		w.Header().Set("Etag", etagOf(id))
		h.writeJson(w, logRecords(recs))
		return
	}

	var last int64
	if tag := r.Header.Get("If-None-Match"); tag != "" {
		last = parseEtag(tag)
	}
	recs, id := h.m.GetLog(last)
	if recs == nil && last != 0 && id == last {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", etagOf(id))
	h.writeJson(w, logRecords(recs))
}

// streamLog pushes log records over a websocket as they arrive, starting
// with everything newer than ?since=<id> (default: the whole ring).
func (h *Handler) streamLog(w http.ResponseWriter, r *http.Request) {
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		since, _ = strconv.ParseInt(s, 10, 64)
	}
	conn, e := h.upgrader.Upgrade(w, r, nil)
	if e != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	// We never expect anything from the peer; reading just lets us
	// notice when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, e := conn.ReadMessage(); e != nil {
				return
			}
		}
	}()

	for {
		recs, id := h.m.LogSince(since)
		for _, rec := range logRecords(recs) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if e := conn.WriteJSON(rec); e != nil {
				return
			}
			since = rec.Id
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		default:
		}
		h.m.WatchLog(id, streamPoll)
	}
}

// EnableMetrics serves the given gatherer's metrics at /metrics.
func (h *Handler) EnableMetrics(g prometheus.Gatherer) {
	h.r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")
}

// SetAuth requires every request to carry these Basic-Auth credentials.
// An empty user turns the check off again.
func (h *Handler) SetAuth(user, pass string) {
	h.authLock.Lock()
	h.user = user
	h.pass = pass
	h.authLock.Unlock()
}

func (h *Handler) authorized(req *http.Request) bool {
	h.authLock.Lock()
	wantUser, wantPass := h.user, h.pass
	h.authLock.Unlock()
	if wantUser == "" {
		return true
	}
	user, pass, ok := req.BasicAuth()
	if !ok {
		return false
	}
	// Evaluate both, so the time taken does not say which was wrong.
	u := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass))
	return u&p == 1
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="dropvisor"`)
		h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
		return
	}
	h.r.ServeHTTP(w, req)
}

func NewHandler(m *dropvisor.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/start", h.start).Methods("POST")
	r.HandleFunc("/stop", h.stop).Methods("POST")
	r.HandleFunc("/restart", h.restart).Methods("POST")
	r.HandleFunc("/check", h.check).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/log/stream", h.streamLog).Methods("GET")
	return h
}

// Listen opens a TCP listener on addr, accepting at most maxConns
// simultaneous connections when maxConns is positive.
func Listen(addr string, maxConns int) (net.Listener, error) {
	l, e := net.Listen("tcp", addr)
	if e != nil {
		return nil, e
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}
