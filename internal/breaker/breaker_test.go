package breaker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/domain"
	"weatheredge/internal/store/memory"
)

type fakeAlerter struct {
	mu    sync.Mutex
	sends []struct {
		Severity domain.Severity
		Title    string
	}
}

func (f *fakeAlerter) Send(ctx context.Context, severity domain.Severity, title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, struct {
		Severity domain.Severity
		Title    string
	}{severity, title})
}

func newTestBreaker(t *testing.T) (*Breaker, *memory.Store, *fakeAlerter, *time.Time) {
	t.Helper()
	store := memory.New()
	alerts := &fakeAlerter{}
	b := New(store.Events(), alerts, time.Hour, slog.Default())
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, store, alerts, &now
}

func TestTripAndState(t *testing.T) {
	b, store, alerts, _ := newTestBreaker(t)
	ctx := context.Background()

	require.Equal(t, domain.BreakerArmed, b.State())

	require.NoError(t, b.Trip(ctx, domain.TripDailyLossExceeded, "daily pnl -120.00"))
	assert.Equal(t, domain.BreakerTripped, b.State())

	reason, tripped := b.Reason()
	assert.True(t, tripped)
	assert.Equal(t, domain.TripDailyLossExceeded, reason)

	ev, err := store.Events().LatestOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TripDailyLossExceeded, ev.Reason)
	assert.Nil(t, ev.ResetAt)

	require.Len(t, alerts.sends, 1)
	assert.Equal(t, domain.SeverityWarning, alerts.sends[0].Severity)
}

func TestLeggedPositionStuckIsCritical(t *testing.T) {
	b, _, alerts, _ := newTestBreaker(t)

	require.NoError(t, b.Trip(context.Background(), domain.TripLeggedPositionStuck, "exit timeout"))

	require.Len(t, alerts.sends, 1)
	assert.Equal(t, domain.SeverityCritical, alerts.sends[0].Severity)
	assert.Contains(t, alerts.sends[0].Title, "LEGGED POSITION STUCK")
}

func TestRetripRecordsLatestReason(t *testing.T) {
	b, _, _, now := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, b.Trip(ctx, domain.TripApiErrorBurst, ""))
	*now = now.Add(30 * time.Minute)
	require.NoError(t, b.Trip(ctx, domain.TripDualRpcFailure, "both endpoints exhausted"))

	reason, _ := b.Reason()
	assert.Equal(t, domain.TripDualRpcFailure, reason)

	// Cooldown restarts from the newest trip.
	*now = now.Add(45 * time.Minute)
	assert.Equal(t, domain.BreakerTripped, b.State())
}

func TestResetRequiresCooldown(t *testing.T) {
	b, store, _, now := newTestBreaker(t)
	ctx := context.Background()

	assert.ErrorIs(t, b.Reset(ctx), domain.ErrBreakerNotTripped)

	require.NoError(t, b.Trip(ctx, domain.TripDrawdownExceeded, ""))

	*now = now.Add(59 * time.Minute)
	assert.ErrorIs(t, b.Reset(ctx), domain.ErrCooldownNotElapsed)
	assert.Equal(t, domain.BreakerTripped, b.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, domain.BreakerCooldown, b.State())
	require.NoError(t, b.Reset(ctx))
	assert.Equal(t, domain.BreakerArmed, b.State())

	_, err := store.Events().LatestOpen(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound, "reset must set reset_at on the open event")
}

func TestRehydrate(t *testing.T) {
	b, store, _, now := newTestBreaker(t)
	ctx := context.Background()
	require.NoError(t, b.Trip(ctx, domain.TripLatencyExceeded, ""))

	// Fresh breaker over the same event log, as after a crash.
	b2 := New(store.Events(), &fakeAlerter{}, time.Hour, slog.Default())
	b2.now = func() time.Time { return *now }
	require.NoError(t, b2.Rehydrate(ctx))

	assert.Equal(t, domain.BreakerTripped, b2.State())
	reason, tripped := b2.Reason()
	assert.True(t, tripped)
	assert.Equal(t, domain.TripLatencyExceeded, reason)
}
