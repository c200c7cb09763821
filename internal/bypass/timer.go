package bypass

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applock-service/internal/util"
)

// Store is the slice of local persistence the timer needs
type Store interface {
	BypassUntil(ctx context.Context) (*time.Time, error)
	SetBypassUntil(ctx context.Context, until time.Time) error
	ClearBypass(ctx context.Context) error
}

// Timer holds the temporary security-bypass override: while active the app
// never locks. The expiry is absolute and survives restarts; a watcher
// detects it passing and forces a lock exactly once, with no user action.
type Timer struct {
	state    Store
	duration time.Duration

	now func() time.Time
}

// Remaining is the days/hours breakdown shown on the settings screen
type Remaining struct {
	Days  int `json:"days"`
	Hours int `json:"hours"`
}

func NewTimer(state Store, duration time.Duration) *Timer {
	return &Timer{
		state:    state,
		duration: duration,
		now:      time.Now,
	}
}

// Enable arms the bypass for the configured window from now
func (t *Timer) Enable(ctx context.Context) (time.Time, error) {
	until := t.now().Add(t.duration)
	if err := t.state.SetBypassUntil(ctx, until); err != nil {
		return time.Time{}, fmt.Errorf("failed to enable security bypass: %w", err)
	}

	util.Warn("Security bypass enabled",
		zap.Time("until", until),
		zap.Duration("duration", t.duration))

	return until, nil
}

// Disable clears the stored expiry
func (t *Timer) Disable(ctx context.Context) error {
	if err := t.state.ClearBypass(ctx); err != nil {
		return fmt.Errorf("failed to disable security bypass: %w", err)
	}

	util.Info("Security bypass disabled")
	return nil
}

// Active reports whether the bypass window is still open
func (t *Timer) Active(ctx context.Context) (bool, error) {
	until, err := t.state.BypassUntil(ctx)
	if err != nil {
		return false, err
	}
	return until != nil && t.now().Before(*until), nil
}

// Remaining returns the time left in the window, and whether one is open
func (t *Timer) Remaining(ctx context.Context) (Remaining, bool, error) {
	until, err := t.state.BypassUntil(ctx)
	if err != nil {
		return Remaining{}, false, err
	}
	if until == nil || !t.now().Before(*until) {
		return Remaining{}, false, nil
	}

	left := until.Sub(t.now())
	return Remaining{
		Days:  int(left / (24 * time.Hour)),
		Hours: int(left % (24 * time.Hour) / time.Hour),
	}, true, nil
}

// CheckExpired clears a lapsed expiry and reports it. The stored value is
// removed on the first detection, so callers observe the transition once.
func (t *Timer) CheckExpired(ctx context.Context) (bool, error) {
	until, err := t.state.BypassUntil(ctx)
	if err != nil {
		return false, err
	}
	if until == nil || t.now().Before(*until) {
		return false, nil
	}

	if err := t.state.ClearBypass(ctx); err != nil {
		return false, fmt.Errorf("failed to clear expired bypass: %w", err)
	}

	util.Warn("Security bypass expired", zap.Time("was_until", *until))
	return true, nil
}

// Watch polls for expiry on the given interval until ctx is done, invoking
// onExpire when the window lapses
func (t *Timer) Watch(ctx context.Context, interval time.Duration, onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := t.CheckExpired(ctx)
			if err != nil {
				util.Error("Bypass expiry check failed", zap.Error(err))
				continue
			}
			if expired {
				onExpire()
			}
		}
	}
}

// SetClock overrides the wall clock, for tests
func (t *Timer) SetClock(now func() time.Time) {
	t.now = now
}
