package engine

import (
	"fmt"
	"sync"
	"time"

	"weatheredge/internal/domain"
)

// MonitorConfig holds the anomaly thresholds that trip the breaker.
type MonitorConfig struct {
	// FillRateFloor trips when the fill ratio over the last FillRateWindow
	// order submissions drops below it. No verdict until the window is full.
	FillRateFloor  float64
	FillRateWindow int
	// MaxAvgLatency trips when mean execution latency over the last
	// LatencyWindow submissions exceeds it.
	MaxAvgLatency time.Duration
	LatencyWindow int
	// MaxApiErrorsPerHour trips on that many API errors within a rolling hour.
	MaxApiErrorsPerHour int
}

// Monitor watches execution health and reports threshold breaches. It never
// trips the breaker itself; the engine owns that decision so trips stay
// inside the same serialization boundary as everything else.
type Monitor struct {
	cfg MonitorConfig
	now func() time.Time

	mu        sync.Mutex
	fills     []bool
	latencies []time.Duration
	errAt     []time.Time
}

// NewMonitor creates a Monitor with the given thresholds.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{cfg: cfg, now: time.Now}
}

// RecordFillOutcome records whether a submission filled and reports a
// FillRateBelowFloor breach.
func (m *Monitor) RecordFillOutcome(filled bool) (domain.TripReason, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fills = append(m.fills, filled)
	if len(m.fills) > m.cfg.FillRateWindow {
		m.fills = m.fills[len(m.fills)-m.cfg.FillRateWindow:]
	}
	if m.cfg.FillRateWindow == 0 || len(m.fills) < m.cfg.FillRateWindow {
		return "", "", false
	}

	n := 0
	for _, ok := range m.fills {
		if ok {
			n++
		}
	}
	rate := float64(n) / float64(len(m.fills))
	if rate < m.cfg.FillRateFloor {
		return domain.TripFillRateBelowFloor,
			fmt.Sprintf("fill rate %.0f%% over last %d trades (floor %.0f%%)", rate*100, len(m.fills), m.cfg.FillRateFloor*100),
			true
	}
	return "", "", false
}

// RecordLatency records one execution round-trip and reports a
// LatencyExceeded breach.
func (m *Monitor) RecordLatency(d time.Duration) (domain.TripReason, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, d)
	if len(m.latencies) > m.cfg.LatencyWindow {
		m.latencies = m.latencies[len(m.latencies)-m.cfg.LatencyWindow:]
	}
	if m.cfg.LatencyWindow == 0 || len(m.latencies) < m.cfg.LatencyWindow {
		return "", "", false
	}

	var sum time.Duration
	for _, l := range m.latencies {
		sum += l
	}
	avg := sum / time.Duration(len(m.latencies))
	if avg > m.cfg.MaxAvgLatency {
		return domain.TripLatencyExceeded,
			fmt.Sprintf("avg execution latency %s over last %d trades (max %s)", avg, len(m.latencies), m.cfg.MaxAvgLatency),
			true
	}
	return "", "", false
}

// RecordApiError records one API error and reports an ApiErrorBurst breach
// over the rolling hour.
func (m *Monitor) RecordApiError() (domain.TripReason, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-time.Hour)
	kept := m.errAt[:0]
	for _, t := range m.errAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.errAt = append(kept, now)

	if m.cfg.MaxApiErrorsPerHour > 0 && len(m.errAt) >= m.cfg.MaxApiErrorsPerHour {
		return domain.TripApiErrorBurst,
			fmt.Sprintf("%d api errors within the last hour (max %d)", len(m.errAt), m.cfg.MaxApiErrorsPerHour),
			true
	}
	return "", "", false
}
