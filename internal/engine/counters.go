package engine

import (
	"time"

	"weatheredge/internal/risk"
)

// DailyCounters is process-wide state zeroed at the UTC day boundary:
// trades today, realized loss today, and per-correlation-key trade counts.
// It is rebuilt from the ledger on startup and mutated only inside the
// engine's serialization boundary; it carries no lock of its own.
type DailyCounters struct {
	now         func() time.Time
	day         time.Time // UTC midnight of the counted day
	trades      int
	realizedPnL float64
	byKey       map[string]int
}

// NewDailyCounters creates counters anchored to the current UTC day.
func NewDailyCounters(now func() time.Time) *DailyCounters {
	c := &DailyCounters{now: now}
	c.day = dayStart(now())
	c.byKey = make(map[string]int)
	return c
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// rollover zeroes everything when the UTC day has changed since last access.
func (c *DailyCounters) rollover() {
	if d := dayStart(c.now()); !d.Equal(c.day) {
		c.day = d
		c.trades = 0
		c.realizedPnL = 0
		c.byKey = make(map[string]int)
	}
}

// DayStart returns the UTC midnight the counters are anchored to.
func (c *DailyCounters) DayStart() time.Time {
	c.rollover()
	return c.day
}

// Snapshot returns a copy safe to hand to the (pure) risk pipeline.
func (c *DailyCounters) Snapshot() risk.CountersSnapshot {
	c.rollover()
	byKey := make(map[string]int, len(c.byKey))
	for k, v := range c.byKey {
		byKey[k] = v
	}
	return risk.CountersSnapshot{
		Trades:      c.trades,
		RealizedPnL: c.realizedPnL,
		ByKey:       byKey,
	}
}

// RecordTrade counts one approved trade against the day and its key.
func (c *DailyCounters) RecordTrade(correlationKey string) {
	c.rollover()
	c.trades++
	if correlationKey != "" {
		c.byKey[correlationKey]++
	}
}

// RecordRealizedPnL adds a realized P&L amount to today's running total.
func (c *DailyCounters) RecordRealizedPnL(amount float64) {
	c.rollover()
	c.realizedPnL += amount
}

// Rebuild overwrites the counters from ledger-derived values at startup.
func (c *DailyCounters) Rebuild(trades int, realizedPnL float64, byKey map[string]int) {
	c.rollover()
	c.trades = trades
	c.realizedPnL = realizedPnL
	c.byKey = make(map[string]int, len(byKey))
	for k, v := range byKey {
		c.byKey[k] = v
	}
}
