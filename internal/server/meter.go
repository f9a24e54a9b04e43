package server

import (
	"sync"
	"time"
)

// BPSMeter tracks download speed per server and globally over a sliding
// window. Workers feed it through Pool.ReportSuccess; the API status
// endpoint reads it.
type BPSMeter struct {
	mu      sync.Mutex
	window  time.Duration
	samples map[string][]sample
	totals  map[string]int64
}

type sample struct {
	at    time.Time
	bytes int64
}

func NewBPSMeter() *BPSMeter {
	return &BPSMeter{
		window:  10 * time.Second,
		samples: make(map[string][]sample),
		totals:  make(map[string]int64),
	}
}

func (m *BPSMeter) Add(serverID string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.samples[serverID] = append(m.pruneLocked(serverID, now), sample{at: now, bytes: bytes})
	m.totals[serverID] += bytes
}

// BPS returns the current rate for one server in bytes/second.
func (m *BPSMeter) BPS(serverID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLocked(m.pruneLocked(serverID, time.Now()))
}

// TotalBPS sums the rate over all servers.
func (m *BPSMeter) TotalBPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var total float64
	for id := range m.samples {
		total += m.rateLocked(m.pruneLocked(id, now))
	}
	return total
}

// TotalBytes is the lifetime byte count for one server.
func (m *BPSMeter) TotalBytes(serverID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[serverID]
}

func (m *BPSMeter) pruneLocked(serverID string, now time.Time) []sample {
	cutoff := now.Add(-m.window)
	kept := m.samples[serverID][:0]
	for _, s := range m.samples[serverID] {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	m.samples[serverID] = kept
	return kept
}

func (m *BPSMeter) rateLocked(samples []sample) float64 {
	var bytes int64
	for _, s := range samples {
		bytes += s.bytes
	}
	return float64(bytes) / m.window.Seconds()
}
