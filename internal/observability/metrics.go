package observability

import (
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"
)

// counters maps a pipe-joined label set to a count.
type counters map[string]int64

func (c counters) inc(labels ...string) {
	c[strings.Join(labels, "|")]++
}

// Metrics keeps the process counters served on /metrics. The zero value is
// not usable; a nil *Metrics ignores every call.
type Metrics struct {
	mu        sync.Mutex
	startedAt time.Time
	requests  counters
	errors    counters
	events    counters
	latency   time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{
		startedAt: time.Now(),
		requests:  counters{},
		errors:    counters{},
		events:    counters{},
	}
}

// RecordRequest counts a finished request under route, method and status.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests.inc(route, method, strconv.Itoa(status))
	m.latency += duration
}

// RecordError counts an error response by its envelope code.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors.inc(route, method, code)
}

// RecordEvent counts a push event by type and whether the hub took it.
func (m *Metrics) RecordEvent(eventType string, delivered bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.inc(eventType, strconv.FormatBool(delivered))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UptimeSeconds  float64          `json:"uptime_seconds"`
	Requests       map[string]int64 `json:"requests"`
	Errors         map[string]int64 `json:"errors"`
	Events         map[string]int64 `json:"events"`
	LatencySeconds float64          `json:"latency_seconds_total"`
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		UptimeSeconds:  time.Since(m.startedAt).Seconds(),
		Requests:       maps.Clone(m.requests),
		Errors:         maps.Clone(m.errors),
		Events:         maps.Clone(m.events),
		LatencySeconds: m.latency.Seconds(),
	}
}
