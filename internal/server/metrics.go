package server

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server counters
type Metrics struct {
	startTime     time.Time
	requests      atomic.Int64
	serverErrors  atomic.Int64
	clientErrors  atomic.Int64
	salesRecorded atomic.Int64
	itemsRecorded atomic.Int64
	replays       atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	SalesRecorded int64   `json:"sales_recorded"`
	ItemsRecorded int64   `json:"items_recorded"`
	Replays       int64   `json:"replays"`
}

// NewMetrics creates a Metrics starting now
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordRequest()     { m.requests.Add(1) }
func (m *Metrics) RecordError()       { m.serverErrors.Add(1) }
func (m *Metrics) RecordClientError() { m.clientErrors.Add(1) }

// RecordWrite counts an accepted sale or count line; replayed tokens are counted apart
func (m *Metrics) RecordWrite(sale, replayed bool) {
	switch {
	case replayed:
		m.replays.Add(1)
	case sale:
		m.salesRecorded.Add(1)
	default:
		m.itemsRecorded.Add(1)
	}
}

// Snapshot returns a point-in-time copy of the metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		SalesRecorded: m.salesRecorded.Load(),
		ItemsRecorded: m.itemsRecorded.Load(),
		Replays:       m.replays.Load(),
	}
}
