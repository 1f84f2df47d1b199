// Package testutil holds fakes shared by package tests: a settable clock,
// predictable token generator and a reference backend on httptest.
package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Epoch is the default start of a Clock
var Epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tokens mints prefix-1, prefix-2, ...
type Tokens struct {
	prefix string
	n      atomic.Int64
}

// NewTokens returns a generator with the given prefix
func NewTokens(prefix string) *Tokens {
	return &Tokens{prefix: prefix}
}

// Next returns the next token
func (g *Tokens) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}

// Ticker is a ticker driven by Tick
type Ticker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

// NewTicker returns a ticker with a buffered channel
func NewTicker() *Ticker {
	return &Ticker{ch: make(chan time.Time, 1)}
}

func (t *Ticker) C() <-chan time.Time { return t.ch }
func (t *Ticker) Stop()               { t.stopped.Store(true) }

// Stopped reports whether Stop was called
func (t *Ticker) Stopped() bool { return t.stopped.Load() }

// Tick delivers one tick
func (t *Ticker) Tick(now time.Time) { t.ch <- now }
