package lockout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"applock-service/internal/config"
	"applock-service/internal/lockout"
	"applock-service/internal/model"
)

type memStore struct {
	state *model.LockoutState
}

func (m *memStore) Lockout(ctx context.Context) (*model.LockoutState, error) {
	if m.state == nil {
		return &model.LockoutState{}, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *memStore) SetLockout(ctx context.Context, state *model.LockoutState) error {
	cp := *state
	m.state = &cp
	return nil
}

func testLockConfig() config.LockConfig {
	return config.LockConfig{
		MaxPINAttempts: 3,
		FirstLockout:   5 * time.Minute,
		RepeatLockout:  10 * time.Minute,
	}
}

func newTestTracker(t *testing.T) (*lockout.Tracker, *memStore, *time.Time) {
	t.Helper()
	store := &memStore{}
	tracker := lockout.NewTracker(store, testLockConfig())
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return current })
	return tracker, store, &current
}

func TestThreeFailuresTriggerFirstLockout(t *testing.T) {
	ctx := context.Background()
	tracker, _, now := newTestTracker(t)

	for i := 0; i < 2; i++ {
		state, err := tracker.RecordFailure(ctx)
		require.NoError(t, err)
		require.Nil(t, state.LockoutUntil)
		require.Equal(t, i+1, state.FailedAttempts)
	}

	state, err := tracker.RecordFailure(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LockoutUntil)
	require.Equal(t, now.Add(5*time.Minute), *state.LockoutUntil)
	require.Equal(t, 1, state.LockoutLevel)
	require.Equal(t, 0, state.FailedAttempts)

	blocked, remaining, err := tracker.Blocked(ctx)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, remaining)
}

func TestRepeatLockoutLastsTenMinutes(t *testing.T) {
	ctx := context.Background()
	tracker, _, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}

	// Wait out the first window, then fail three more times.
	*current = current.Add(6 * time.Minute)

	var state *model.LockoutState
	var err error
	for i := 0; i < 3; i++ {
		state, err = tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}
	require.NotNil(t, state.LockoutUntil)
	require.Equal(t, current.Add(10*time.Minute), *state.LockoutUntil)
	require.Equal(t, 2, state.LockoutLevel)

	// Level saturates at 2: a third lockout is still 10 minutes.
	*current = current.Add(11 * time.Minute)
	for i := 0; i < 3; i++ {
		state, err = tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, current.Add(10*time.Minute), *state.LockoutUntil)
	require.Equal(t, 2, state.LockoutLevel)
}

func TestExpiryResetsAttemptsButNotLevel(t *testing.T) {
	ctx := context.Background()
	tracker, _, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}

	blocked, _, err := tracker.Blocked(ctx)
	require.NoError(t, err)
	require.True(t, blocked)

	*current = current.Add(5*time.Minute + time.Second)

	blocked, _, err = tracker.Blocked(ctx)
	require.NoError(t, err)
	require.False(t, blocked)

	state, err := tracker.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, state.FailedAttempts)
	require.Nil(t, state.LockoutUntil)
	require.Equal(t, 1, state.LockoutLevel)
}

func TestResetPreservesEscalationLevel(t *testing.T) {
	ctx := context.Background()
	tracker, _, current := newTestTracker(t)

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}
	*current = current.Add(6 * time.Minute)

	// A successful unlock resets the counter and window.
	require.NoError(t, tracker.Reset(ctx))

	state, err := tracker.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, state.FailedAttempts)
	require.Nil(t, state.LockoutUntil)
	require.Equal(t, 1, state.LockoutLevel)

	// The next lockout after the reset already uses the longer duration.
	for i := 0; i < 3; i++ {
		state, err = tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}
	require.NotNil(t, state.LockoutUntil)
	require.Equal(t, current.Add(10*time.Minute), *state.LockoutUntil)
}

func TestFailuresBelowThresholdDoNotBlock(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker(t)

	for i := 0; i < 2; i++ {
		_, err := tracker.RecordFailure(ctx)
		require.NoError(t, err)
	}

	blocked, _, err := tracker.Blocked(ctx)
	require.NoError(t, err)
	require.False(t, blocked)
}
