package bypass_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"applock-service/internal/bypass"
)

type memStore struct {
	until *time.Time
}

func (m *memStore) BypassUntil(ctx context.Context) (*time.Time, error) {
	if m.until == nil {
		return nil, nil
	}
	cp := *m.until
	return &cp, nil
}

func (m *memStore) SetBypassUntil(ctx context.Context, until time.Time) error {
	cp := until
	m.until = &cp
	return nil
}

func (m *memStore) ClearBypass(ctx context.Context) error {
	m.until = nil
	return nil
}

func newTestTimer(t *testing.T) (*bypass.Timer, *memStore, *time.Time) {
	t.Helper()
	store := &memStore{}
	timer := bypass.NewTimer(store, 72*time.Hour)
	current := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	timer.SetClock(func() time.Time { return current })
	return timer, store, &current
}

func TestEnableOpensThreeDayWindow(t *testing.T) {
	ctx := context.Background()
	timer, _, now := newTestTimer(t)

	until, err := timer.Enable(ctx)
	require.NoError(t, err)
	require.Equal(t, now.Add(72*time.Hour), until)

	active, err := timer.Active(ctx)
	require.NoError(t, err)
	require.True(t, active)
}

func TestActiveForWholeWindowThenInactive(t *testing.T) {
	ctx := context.Background()
	timer, _, current := newTestTimer(t)

	_, err := timer.Enable(ctx)
	require.NoError(t, err)

	*current = current.Add(72*time.Hour - time.Second)
	active, err := timer.Active(ctx)
	require.NoError(t, err)
	require.True(t, active)

	*current = current.Add(2 * time.Second)
	active, err = timer.Active(ctx)
	require.NoError(t, err)
	require.False(t, active)
}

func TestRemainingBreakdown(t *testing.T) {
	ctx := context.Background()
	timer, _, current := newTestTimer(t)

	_, err := timer.Enable(ctx)
	require.NoError(t, err)

	*current = current.Add(10 * time.Hour)

	remaining, active, err := timer.Remaining(ctx)
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, 2, remaining.Days)
	require.Equal(t, 14, remaining.Hours)
}

func TestRemainingWithoutWindow(t *testing.T) {
	ctx := context.Background()
	timer, _, _ := newTestTimer(t)

	_, active, err := timer.Remaining(ctx)
	require.NoError(t, err)
	require.False(t, active)
}

func TestCheckExpiredFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	timer, store, current := newTestTimer(t)

	_, err := timer.Enable(ctx)
	require.NoError(t, err)

	expired, err := timer.CheckExpired(ctx)
	require.NoError(t, err)
	require.False(t, expired)

	*current = current.Add(73 * time.Hour)

	expired, err = timer.CheckExpired(ctx)
	require.NoError(t, err)
	require.True(t, expired)
	require.Nil(t, store.until)

	// The stored value was cleared, so the transition is observed once.
	expired, err = timer.CheckExpired(ctx)
	require.NoError(t, err)
	require.False(t, expired)
}

func TestDisableClearsWindow(t *testing.T) {
	ctx := context.Background()
	timer, store, _ := newTestTimer(t)

	_, err := timer.Enable(ctx)
	require.NoError(t, err)
	require.NoError(t, timer.Disable(ctx))
	require.Nil(t, store.until)

	active, err := timer.Active(ctx)
	require.NoError(t, err)
	require.False(t, active)
}

func TestWatchInvokesCallbackOnExpiry(t *testing.T) {
	timer, _, current := newTestTimer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := timer.Enable(ctx)
	require.NoError(t, err)
	*current = current.Add(73 * time.Hour)

	fired := make(chan struct{}, 1)
	go timer.Watch(ctx, 5*time.Millisecond, func() {
		fired <- struct{}{}
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("bypass expiry callback was not invoked")
	}
}
