// Package equity maintains the engine's current equity and running peak.
// It is a pure in-memory reducer over realized P&L events; history lives in
// the ledger's closed positions, which rebuild the tracker on startup.
package equity

import "sync"

// Snapshot is the derived equity state fed to the drawdown gate.
type Snapshot struct {
	Equity   float64
	Peak     float64
	Drawdown float64 // 1 - equity/peak
}

// Tracker tracks current equity and the monotonically non-decreasing peak.
type Tracker struct {
	mu     sync.Mutex
	equity float64
	peak   float64
}

// New creates a Tracker seeded with the starting bankroll.
func New(initial float64) *Tracker {
	return &Tracker{equity: initial, peak: initial}
}

// ApplyRealizedPnL adds a realized P&L amount to equity, raises the peak if
// a new high was reached, and returns the resulting snapshot.
func (t *Tracker) ApplyRealizedPnL(amount float64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.equity += amount
	if t.equity > t.peak {
		t.peak = t.equity
	}
	return t.snapshotLocked()
}

// Snapshot returns the current equity state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// ResetPeak is an explicit administrative reset of the peak to current
// equity. It is the only way the peak can decrease.
func (t *Tracker) ResetPeak() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peak = t.equity
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{Equity: t.equity, Peak: t.peak}
	if t.peak > 0 {
		s.Drawdown = 1 - t.equity/t.peak
	}
	return s
}
