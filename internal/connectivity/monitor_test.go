package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/posync/internal/faults"
)

func TestReconnectFiresOncePerTransition(t *testing.T) {
	m := New(false, nil)
	var reconnects, changes atomic.Int32
	m.OnReconnect(func() { reconnects.Add(1) })
	m.OnChange(func(bool) { changes.Add(1) })

	m.SetOnline(true)
	m.SetOnline(true)
	m.Report(nil)
	if got := reconnects.Load(); got != 1 {
		t.Fatalf("reconnects = %d, want 1", got)
	}

	m.SetOnline(false)
	m.SetOnline(false)
	m.SetOnline(true)
	if got := reconnects.Load(); got != 2 {
		t.Errorf("reconnects = %d, want 2", got)
	}
	if got := changes.Load(); got != 3 {
		t.Errorf("changes = %d, want 3", got)
	}
}

func TestReportCorroboration(t *testing.T) {
	m := New(true, nil)

	m.Report(fmt.Errorf("status 503: %w", faults.ErrServerUnavailable))
	if !m.IsOnline() {
		t.Error("a 5xx must not flip to offline")
	}
	m.Report(fmt.Errorf("status 422: %w", faults.ErrServerRejected))
	if !m.IsOnline() {
		t.Error("a 4xx must not flip to offline")
	}
	m.Report(faults.Network("POST /sales", errors.New("connection refused")))
	if m.IsOnline() {
		t.Error("a network failure should flip to offline")
	}
	m.Report(fmt.Errorf("status 500: %w", faults.ErrServerUnavailable))
	if m.IsOnline() {
		t.Error("a server error while offline must not flip to online")
	}
	m.Report(nil)
	if !m.IsOnline() {
		t.Error("a successful call should flip to online")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := New(false, nil)
	var n atomic.Int32
	unsub := m.OnReconnect(func() { n.Add(1) })
	unsub()
	m.SetOnline(true)
	if n.Load() != 0 {
		t.Error("unsubscribed callback was called")
	}
}

func TestConcurrentSetOnlineExactlyOnce(t *testing.T) {
	m := New(false, nil)
	var reconnects atomic.Int32
	m.OnReconnect(func() { reconnects.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.SetOnline(true)
		}()
	}
	wg.Wait()
	if got := reconnects.Load(); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestCallbackMayReadState(t *testing.T) {
	m := New(false, nil)
	seen := make(chan bool, 1)
	m.OnChange(func(online bool) { seen <- m.IsOnline() })
	m.SetOnline(true)
	if !<-seen {
		t.Error("callback saw stale state")
	}
}

func TestRunProbes(t *testing.T) {
	m := New(true, nil)
	var calls atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)

	p := ProberFunc(func(ctx context.Context) error {
		calls.Add(1)
		if fail.Load() {
			return faults.Network("GET /healthz", errors.New("no route to host"))
		}
		return nil
	})

	reconnected := make(chan struct{}, 1)
	m.OnReconnect(func() { reconnected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, p, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for m.IsOnline() {
		select {
		case <-deadline:
			t.Fatal("probe never reported offline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	fail.Store(false)
	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("probe never reported reconnect")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if calls.Load() < 2 {
		t.Errorf("probe calls = %d, want at least 2", calls.Load())
	}
}
