// Package devdbtest starts the local query endpoint for tests and lets them
// fail chosen statements.
package devdbtest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"BillingApp/app/devdb"
	"BillingApp/app/remotedb"
)

// Token is the bearer token the harness accepts
const Token = "devdb-test-token"

// Harness is a running emulator plus its fault injector
type Harness struct {
	HTTP   *httptest.Server
	Server *devdb.Server
	Faults *Faults
}

// Start runs an in-memory emulator for the duration of the test
func Start(tb testing.TB) *Harness {
	tb.Helper()

	db, err := devdb.Open("")
	if err != nil {
		tb.Fatalf("open emulator database: %v", err)
	}
	srv := devdb.NewServer(db, Token, nil)
	faults := &Faults{}
	ts := httptest.NewServer(faults.Wrap(srv.Handler()))

	tb.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &Harness{HTTP: ts, Server: srv, Faults: faults}
}

// Options returns client options pointing at the emulator
func (h *Harness) Options() remotedb.Options {
	return remotedb.Options{
		AccountID:  "test-account",
		DatabaseID: "test-database",
		APIToken:   Token,
		BaseURL:    h.HTTP.URL,
		Timeout:    5 * time.Second,
	}
}

// Client builds a client for the emulator
func (h *Harness) Client(tb testing.TB) *remotedb.Client {
	tb.Helper()
	c, err := remotedb.NewClient(h.Options())
	if err != nil {
		tb.Fatalf("new client: %v", err)
	}
	return c
}

type rule struct {
	contains string
	skip     int
	times    int
	status   int
}

// Faults fails statements whose SQL contains a given fragment
type Faults struct {
	mu       sync.Mutex
	rules    []*rule
	down     bool
	requests []string
}

// FailOn fails the matching statement after letting skip matches through.
// times < 0 fails every later match.
func (f *Faults) FailOn(contains string, skip, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{contains: contains, skip: skip, times: times, status: http.StatusServiceUnavailable})
}

// SetDown makes every request fail with 503 until called with false
func (f *Faults) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Reset removes every rule and the request log
func (f *Faults) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
	f.down = false
	f.requests = nil
}

// Requests returns the SQL of every request seen so far
func (f *Faults) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// Count returns how many requests contained fragment
func (f *Faults) Count(fragment string) int {
	n := 0
	for _, sql := range f.Requests() {
		if strings.Contains(sql, fragment) {
			n++
		}
	}
	return n
}

// Wrap puts the injector in front of next
func (f *Faults) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		var stmt struct {
			SQL string `json:"sql"`
		}
		json.Unmarshal(body, &stmt)

		if status := f.match(stmt.SQL); status != 0 {
			http.Error(w, "injected failure", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *Faults) match(sql string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, sql)
	if f.down {
		return http.StatusServiceUnavailable
	}
	for _, r := range f.rules {
		if !strings.Contains(sql, r.contains) {
			continue
		}
		if r.skip > 0 {
			r.skip--
			continue
		}
		if r.times == 0 {
			continue
		}
		if r.times > 0 {
			r.times--
		}
		return r.status
	}
	return 0
}
