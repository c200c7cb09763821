package lockout

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applock-service/internal/config"
	"applock-service/internal/model"
	"applock-service/internal/util"
)

// Store is the slice of local persistence the tracker needs
type Store interface {
	Lockout(ctx context.Context) (*model.LockoutState, error)
	SetLockout(ctx context.Context, state *model.LockoutState) error
}

// Tracker rate-limits PIN guessing. Master PIN, Super Admin PIN and bypass
// PIN entry all count against the same budget: three consecutive failures
// suspend PIN evaluation entirely until the window passes.
//
// The escalation level is sticky. It survives successful unlocks and window
// expiry, so a device that has ever escalated keeps the longer duration on
// its next lockout.
type Tracker struct {
	state         Store
	maxAttempts   int
	firstLockout  time.Duration
	repeatLockout time.Duration

	now func() time.Time
}

func NewTracker(state Store, cfg config.LockConfig) *Tracker {
	return &Tracker{
		state:         state,
		maxAttempts:   cfg.MaxPINAttempts,
		firstLockout:  cfg.FirstLockout,
		repeatLockout: cfg.RepeatLockout,
		now:           time.Now,
	}
}

// Status returns the current lockout state with window expiry applied:
// a lapsed window resets the attempt counter but never the level.
func (t *Tracker) Status(ctx context.Context) (*model.LockoutState, error) {
	state, err := t.state.Lockout(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load lockout state: %w", err)
	}

	if state.LockoutUntil != nil && !t.now().Before(*state.LockoutUntil) {
		state.FailedAttempts = 0
		state.LockoutUntil = nil
		if err := t.state.SetLockout(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to clear expired lockout: %w", err)
		}
		util.Info("Lockout window expired",
			zap.Int("lockout_level", state.LockoutLevel))
	}

	return state, nil
}

// Blocked reports whether PIN submission is currently suspended and for
// how much longer. While blocked, no PIN of any kind may be evaluated.
func (t *Tracker) Blocked(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.Status(ctx)
	if err != nil {
		return false, 0, err
	}
	if state.LockoutUntil == nil {
		return false, 0, nil
	}
	return true, state.LockoutUntil.Sub(t.now()), nil
}

// RecordFailure counts one wrong PIN. The third consecutive failure opens
// a lockout window: 5 minutes the first time in the device's history,
// 10 minutes for every lockout after that.
func (t *Tracker) RecordFailure(ctx context.Context) (*model.LockoutState, error) {
	state, err := t.Status(ctx)
	if err != nil {
		return nil, err
	}

	state.FailedAttempts++

	if state.FailedAttempts >= t.maxAttempts {
		duration := t.firstLockout
		if state.LockoutLevel >= 1 {
			duration = t.repeatLockout
		}
		until := t.now().Add(duration)
		state.FailedAttempts = 0
		state.LockoutUntil = &until
		if state.LockoutLevel < 2 {
			state.LockoutLevel++
		}

		util.Warn("PIN lockout triggered",
			zap.Duration("duration", duration),
			zap.Int("lockout_level", state.LockoutLevel),
			zap.Time("until", until))
	}

	if err := t.state.SetLockout(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist lockout state: %w", err)
	}

	return state, nil
}

// Reset clears the attempt counter and any open window after a successful
// authentication. The escalation level is deliberately left in place.
func (t *Tracker) Reset(ctx context.Context) error {
	state, err := t.state.Lockout(ctx)
	if err != nil {
		return fmt.Errorf("failed to load lockout state: %w", err)
	}

	state.FailedAttempts = 0
	state.LockoutUntil = nil

	if err := t.state.SetLockout(ctx, state); err != nil {
		return fmt.Errorf("failed to reset lockout state: %w", err)
	}

	util.Debug("Lockout counters reset",
		zap.Int("lockout_level", state.LockoutLevel))

	return nil
}

// SetClock overrides the wall clock, for tests
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}
