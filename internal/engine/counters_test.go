package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersRolloverAtUTCMidnight(t *testing.T) {
	clock := time.Date(2026, 8, 29, 23, 50, 0, 0, time.UTC)
	c := NewDailyCounters(func() time.Time { return clock })

	c.RecordTrade("nyc")
	c.RecordTrade("chicago")
	c.RecordRealizedPnL(-80)

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.Trades)
	assert.InDelta(t, -80.0, snap.RealizedPnL, 1e-9)
	assert.Equal(t, 1, snap.ByKey["nyc"])

	// Eleven minutes later it is a new UTC day.
	clock = clock.Add(11 * time.Minute)
	snap = c.Snapshot()
	assert.Zero(t, snap.Trades)
	assert.Zero(t, snap.RealizedPnL)
	assert.Empty(t, snap.ByKey)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), c.DayStart())
}

func TestCountersRebuild(t *testing.T) {
	clock := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	c := NewDailyCounters(func() time.Time { return clock })

	c.Rebuild(3, -45, map[string]int{"nyc": 2, "miami": 1})
	snap := c.Snapshot()
	assert.Equal(t, 3, snap.Trades)
	assert.InDelta(t, -45.0, snap.RealizedPnL, 1e-9)
	assert.Equal(t, 2, snap.ByKey["nyc"])

	// Snapshots are copies; mutating one never leaks back.
	snap.ByKey["nyc"] = 99
	assert.Equal(t, 2, c.Snapshot().ByKey["nyc"])
}
