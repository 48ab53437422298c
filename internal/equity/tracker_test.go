package equity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRealizedPnL(t *testing.T) {
	tr := New(2000)

	s := tr.ApplyRealizedPnL(150)
	assert.Equal(t, 2150.0, s.Equity)
	assert.Equal(t, 2150.0, s.Peak)
	assert.Equal(t, 0.0, s.Drawdown)

	s = tr.ApplyRealizedPnL(-215)
	assert.Equal(t, 1935.0, s.Equity)
	assert.Equal(t, 2150.0, s.Peak, "peak must not decrease on losses")
	assert.InDelta(t, 0.1, s.Drawdown, 1e-9)
}

func TestPeakIsMonotone(t *testing.T) {
	tr := New(1000)

	pnls := []float64{50, -200, 300, -5, -5, 120, -400, 1}
	peak := 1000.0
	for _, pnl := range pnls {
		s := tr.ApplyRealizedPnL(pnl)
		require.GreaterOrEqual(t, s.Peak, peak, "peak decreased after pnl %.2f", pnl)
		peak = s.Peak
		require.GreaterOrEqual(t, s.Peak, s.Equity)
	}
}

func TestResetPeak(t *testing.T) {
	tr := New(1000)
	tr.ApplyRealizedPnL(500)
	tr.ApplyRealizedPnL(-700)

	s := tr.Snapshot()
	require.Equal(t, 1500.0, s.Peak)

	s = tr.ResetPeak()
	assert.Equal(t, 800.0, s.Peak)
	assert.Equal(t, 0.0, s.Drawdown)
}

func TestDrawdownWithZeroPeak(t *testing.T) {
	tr := New(0)
	s := tr.ApplyRealizedPnL(0)
	assert.Equal(t, 0.0, s.Drawdown)
}
