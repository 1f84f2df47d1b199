// Package connectivity tracks whether the backend is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/posync/internal/faults"
)

// Prober checks backend reachability, typically with a health request
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor holds the online/offline state. It changes on platform signals
// (SetOnline) and on the outcome of real calls (Report). Callbacks run
// synchronously, one transition at a time, in the order transitions happen.
// A callback must not call SetOnline or Report itself.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	nextID      int
	onChange    map[int]func(online bool)
	onReconnect map[int]func()
	changedAt   time.Time

	dispatch sync.Mutex
	log      *slog.Logger
}

// New returns a monitor in the given initial state
func New(online bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		online:      online,
		onChange:    map[int]func(bool){},
		onReconnect: map[int]func(){},
		changedAt:   time.Now(),
		log:         logger,
	}
}

// IsOnline reports the current state
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the state last changed
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// SetOnline moves the monitor to the given state. Nothing is notified when
// the state does not change.
func (m *Monitor) SetOnline(online bool) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changedAt = time.Now()
	changeCbs := make([]func(bool), 0, len(m.onChange))
	for _, cb := range m.onChange {
		changeCbs = append(changeCbs, cb)
	}
	var reconnectCbs []func()
	if online {
		for _, cb := range m.onReconnect {
			reconnectCbs = append(reconnectCbs, cb)
		}
	}
	m.mu.Unlock()

	if online {
		m.log.Info("connectivity restored")
	} else {
		m.log.Warn("connectivity lost")
	}
	for _, cb := range changeCbs {
		cb(online)
	}
	for _, cb := range reconnectCbs {
		cb()
	}
}

// Report corroborates the state with the outcome of a backend call. Success
// means online and a network-class failure means offline. Any answer from
// the server, even an error, says nothing new about connectivity.
func (m *Monitor) Report(err error) {
	switch {
	case err == nil:
		m.SetOnline(true)
	case faults.IsNetwork(err):
		m.SetOnline(false)
	}
}

// OnChange registers cb for every transition and returns a function that
// removes it
func (m *Monitor) OnChange(cb func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onChange[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onChange, id)
	}
}

// OnReconnect registers cb for offline to online transitions only
func (m *Monitor) OnReconnect(cb func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onReconnect[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onReconnect, id)
	}
}

// Run probes p immediately and then every interval until ctx is done,
// reporting each result. Each probe is bounded by the interval.
func (m *Monitor) Run(ctx context.Context, p Prober, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.probe(ctx, p, interval)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context, p Prober, timeout time.Duration) {
	if ctx.Err() != nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := p.Probe(probeCtx)
	if ctx.Err() != nil {
		// Shutting down; the failure is ours, not the network's.
		return
	}
	if err != nil {
		m.log.Debug("probe failed", "class", faults.Classify(err), "err", err)
	}
	m.Report(err)
}
