package testkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// FakeAPI is an in-process HTTP server for transport and coordinator tests.
// Handlers are mounted under /api/v1 and every request body is recorded
type FakeAPI struct {
	t   *testing.T
	srv *httptest.Server
	mux *chi.Mux

	mu   sync.Mutex
	reqs map[string][]json.RawMessage
}

// NewFakeAPI starts a server that 404s everything until handlers are mounted.
// It shuts down with the test
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{t: t, mux: chi.NewRouter(), reqs: map[string][]json.RawMessage{}}
	root := chi.NewRouter()
	root.Mount("/api/v1", f.mux)
	f.srv = httptest.NewServer(root)
	t.Cleanup(f.srv.Close)
	return f
}

// URL returns the server's base URL
func (f *FakeAPI) URL() string { return f.srv.URL }

// Handle mounts h for method+pattern under /api/v1, recording each body first.
// The body is still readable inside h
func (f *FakeAPI) Handle(method, pattern string, h http.HandlerFunc) {
	f.mux.MethodFunc(method, pattern, func(w http.ResponseWriter, r *http.Request) {
		var raw []byte
		if r.Body != nil {
			raw, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(raw))
		}
		f.mu.Lock()
		f.reqs[pattern] = append(f.reqs[pattern], json.RawMessage(raw))
		f.mu.Unlock()
		h(w, r)
	})
}

// HandleJSON mounts a handler that always answers status with the JSON
// encoding of v
func (f *FakeAPI) HandleJSON(method, pattern string, status int, v any) {
	f.Handle(method, pattern, func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(f.t, w, status, v)
	})
}

// Requests returns the recorded bodies for pattern, oldest first
func (f *FakeAPI) Requests(pattern string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]json.RawMessage, len(f.reqs[pattern]))
	copy(out, f.reqs[pattern])
	return out
}

// Calls returns how many requests hit pattern
func (f *FakeAPI) Calls(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs[pattern])
}

// LastRequest decodes the most recent body for pattern into out
func (f *FakeAPI) LastRequest(pattern string, out any) {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.reqs[pattern]
	if len(rs) == 0 {
		f.t.Fatalf("no requests recorded for %s", pattern)
	}
	if err := json.Unmarshal(rs[len(rs)-1], out); err != nil {
		f.t.Fatalf("decode last request for %s: %v", pattern, err)
	}
}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
