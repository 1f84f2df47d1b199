package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcus/posync/internal/posclient"
	"github.com/marcus/posync/internal/server"
)

// Backend is the reference server on an httptest listener with switchable
// faults. Every request that reaches the real handler is counted.
type Backend struct {
	Store  *server.Store
	Server *server.Server
	URL    string

	mu       sync.Mutex
	down     bool
	failNext []int
	dropNext int
	hits     map[string]int
	gate     chan struct{}
	held     int
}

// NewBackend starts a backend over an in-memory store seeded with the demo
// catalog. It is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	store, err := server.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.Seed(context.Background(), server.DemoSeed(Epoch)); err != nil {
		store.Close()
		t.Fatalf("Seed: %v", err)
	}
	srv, err := server.NewServer(server.Config{}, store)
	if err != nil {
		store.Close()
		t.Fatalf("NewServer: %v", err)
	}

	b := &Backend{Store: store, Server: srv, hits: map[string]int{}}
	ts := httptest.NewServer(http.HandlerFunc(b.serve))
	b.URL = ts.URL
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})
	return b
}

// Client returns a posclient pointed at the backend. Keep-alives are off:
// net/http replays requests carrying an Idempotency-Key on a reused
// connection that broke, which would hide dropped responses from tests.
func (b *Backend) Client(terminalID string) *posclient.Client {
	c := posclient.New(b.URL, "", terminalID, 5*time.Second)
	c.HTTP.Transport = &http.Transport{DisableKeepAlives: true}
	return c
}

// SetDown makes every request fail at the transport level
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// FailNext answers the next requests with the given statuses, in order,
// without reaching the handler
func (b *Backend) FailNext(statuses ...int) {
	b.mu.Lock()
	b.failNext = append(b.failNext, statuses...)
	b.mu.Unlock()
}

// DropNextResponses applies the next n requests and then cuts the connection
// before the response is written
func (b *Backend) DropNextResponses(n int) {
	b.mu.Lock()
	b.dropNext += n
	b.mu.Unlock()
}

// Hold blocks requests reaching the handler until the returned release
// function is called
func (b *Backend) Hold() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.gate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Held returns how many requests are waiting on Hold
func (b *Backend) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held
}

// WaitHeld blocks until n requests are waiting on Hold
func (b *Backend) WaitHeld(t testing.TB, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.Held() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d held requests, have %d", n, b.Held())
		}
		time.Sleep(time.Millisecond)
	}
}

// Hits returns how many requests with method and a path starting with
// prefix reached the handler
func (b *Backend) Hits(method, prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, v := range b.hits {
		m, path, _ := strings.Cut(k, " ")
		if m == method && strings.HasPrefix(path, prefix) {
			n += v
		}
	}
	return n
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	down := b.down
	var status int
	if !down && len(b.failNext) > 0 {
		status = b.failNext[0]
		b.failNext = b.failNext[1:]
	}
	drop := false
	if !down && status == 0 && b.dropNext > 0 {
		b.dropNext--
		drop = true
	}
	gate := b.gate
	b.mu.Unlock()

	if down {
		hangUp(w)
		return
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if gate != nil {
		b.mu.Lock()
		b.held++
		b.mu.Unlock()
		<-gate
		b.mu.Lock()
		b.held--
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.hits[r.Method+" "+r.URL.Path]++
	b.mu.Unlock()

	if drop {
		b.Server.Handler().ServeHTTP(httptest.NewRecorder(), r)
		hangUp(w)
		return
	}
	b.Server.Handler().ServeHTTP(w, r)
}

// hangUp closes the client connection without a response
func hangUp(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer cannot hijack")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}
