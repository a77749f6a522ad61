// Package cfotest runs an in-memory CFO platform for tests.
package cfotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cloudia/internal/cfo"
	"cloudia/internal/record"
)

const prefix = "/core/cfo/cfi/"

// Request is one call received by the server.
type Request struct {
	Method string
	Entity string
	ID     string
	Query  url.Values
	Body   record.Record
}

func (r Request) String() string {
	if r.ID != "" {
		return r.Method + " " + r.Entity + "/" + r.ID
	}
	return r.Method + " " + r.Entity
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	data     map[string][]record.Record
	requests []Request
	fail     map[string]string
	nextID   int
}

// New starts a server closed at the end of the test.
func New(t testing.TB) *Server {
	s := &Server{
		data:   map[string][]record.Record{},
		fail:   map[string]string{},
		nextID: 9000,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Client returns a client for webKey with retries disabled.
func (s *Server) Client(webKey string) *cfo.Client {
	c := cfo.New(s.URL, webKey, "test-token")
	c.ReadRetry.MaxAttempts = 1
	return c
}

// Seed adds records to entity. JSON round-trips them so numbers become
// json.Number as they would coming off the wire.
func (s *Server) Seed(entity string, recs ...record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.data[entity] = append(s.data[entity], roundTrip(r))
	}
}

// Records returns a copy of what entity holds now.
func (s *Server) Records(entity string) []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Record, 0, len(s.data[entity]))
	for _, r := range s.data[entity] {
		out = append(out, r.Clone())
	}
	return out
}

// Requests returns the calls received so far, optionally only those with method.
func (s *Server) Requests(method string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if method == "" || r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Fail makes every method call on entity answer success=false with msg.
func (s *Server) Fail(method, entity, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method+" "+entity] = msg
}

func roundTrip(r record.Record) record.Record {
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	out, err := record.DecodeObject(b)
	if err != nil {
		panic(err)
	}
	return out
}

func keyOf(r record.Record) string {
	if k := r.Str("KeyId"); k != "" {
		return k
	}
	return r.Str("KeyName")
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, prefix), "/", 2)
	req := Request{Method: r.Method, Entity: parts[0], Query: r.URL.Query()}
	if len(parts) == 2 {
		req.ID = strings.TrimPrefix(parts[1], "display/")
	}
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		if len(b) > 0 {
			rec, err := record.DecodeObject(b)
			if err != nil {
				reply(w, http.StatusBadRequest, map[string]any{"success": false, "errorMsg": err.Error()})
				return
			}
			req.Body = rec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if msg, ok := s.fail[req.Method+" "+req.Entity]; ok {
		reply(w, http.StatusOK, map[string]any{"success": false, "errorMsg": []string{msg}})
		return
	}

	var data any
	switch {
	case r.Method == http.MethodGet && req.ID == "":
		data = s.list(req.Entity, req.Query)
	case r.Method == http.MethodGet:
		if i := s.find(req.Entity, req.ID); i >= 0 {
			data = s.data[req.Entity][i]
		}
	case r.Method == http.MethodPost:
		data = s.insert(req.Entity, req.Body)
	case r.Method == http.MethodPut:
		data = s.put(req.Entity, req.ID, req.Body)
	case r.Method == http.MethodDelete:
		if i := s.find(req.Entity, req.ID); i >= 0 {
			recs := s.data[req.Entity]
			s.data[req.Entity] = append(recs[:i:i], recs[i+1:]...)
		}
	default:
		reply(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "errorMsg": "method not allowed"})
		return
	}
	reply(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (s *Server) find(entity, id string) int {
	for i, r := range s.data[entity] {
		if keyOf(r) == id || r.Str("KeyName") == id {
			return i
		}
	}
	return -1
}

func (s *Server) insert(entity string, rec record.Record) record.Record {
	rec = rec.Clone()
	if keyOf(rec) == "" {
		s.nextID++
		rec["KeyId"] = json.Number(strconv.Itoa(s.nextID))
	}
	s.data[entity] = append(s.data[entity], rec)
	return rec
}

func (s *Server) put(entity, id string, rec record.Record) record.Record {
	rec = rec.Clone()
	if i := s.find(entity, id); i >= 0 {
		s.data[entity][i] = rec
		return rec
	}
	if rec.Str("KeyName") != id && rec.Str("KeyId") != id {
		rec["KeyId"] = id
	}
	s.data[entity] = append(s.data[entity], rec)
	return rec
}

// list applies filter_X equality, filter_X[0]/[1] comparisons and the
// _limit/cfo_limit caps. Ordering is insertion order.
func (s *Server) list(entity string, q url.Values) []record.Record {
	out := []record.Record{}
	limit := 0
	for _, k := range []string{"_limit", "cfo_limit"} {
		if n, err := strconv.Atoi(q.Get(k)); err == nil && n > 0 {
			limit = n
		}
	}
	for _, r := range s.data[entity] {
		if matches(r, q) {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func matches(r record.Record, q url.Values) bool {
	for k := range q {
		if !strings.HasPrefix(k, "filter_") {
			continue
		}
		field := strings.TrimPrefix(k, "filter_")
		switch {
		case strings.HasSuffix(field, "[0]"):
			field = strings.TrimSuffix(field, "[0]")
			if !compare(r.Str(field), q.Get(k), q.Get("filter_"+field+"[1]")) {
				return false
			}
		case strings.HasSuffix(field, "[1]"):
		default:
			if !equalFilter(r[field], q.Get(k)) {
				return false
			}
		}
	}
	return true
}

func equalFilter(v any, want string) bool {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t) == want
	case []any:
		for _, it := range t {
			if record.Text(it) == want {
				return true
			}
		}
		return false
	}
	return record.Text(v) == want
}

func compare(got, op, want string) bool {
	switch op {
	case ">=":
		return got >= want
	case "<=":
		return got <= want
	case ">":
		return got > want
	case "<":
		return got < want
	}
	panic(fmt.Sprintf("cfotest: unsupported operator %q", op))
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
