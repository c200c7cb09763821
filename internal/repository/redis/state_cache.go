package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"applock-service/internal/client"
	"applock-service/internal/model"
	"applock-service/internal/util"
)

// Local persisted keys. Each terminal runs its own agent against its own
// Redis database, so the keys carry no device suffix.
const (
	deviceIDKey     = "applock:device_id"
	deviceNameKey   = "applock:device_name"
	credentialIDKey = "applock:credential_id"
	pinVersionKey   = "applock:pin_version"
	lockedKey       = "applock:locked"
	pinHistoryKey   = "applock:pin_history"
	bypassUntilKey  = "applock:bypass_until"
	lockoutKey      = "applock:lockout"
)

const opTimeout = 5 * time.Second

// StateCache persists the device-local facts the lock state is computed
// from. It implements model.LocalState.
type StateCache struct {
	client *client.RedisClient
}

func NewStateCache(c *client.RedisClient) *StateCache {
	return &StateCache{client: c}
}

func (c *StateCache) DeviceID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	id, err := c.client.GetOrEmpty(ctx, deviceIDKey)
	if err != nil {
		util.Error("Failed to read device id", zap.Error(err))
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}

func (c *StateCache) SetDeviceID(ctx context.Context, id, name string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, deviceIDKey, id, 0)
	pipe.Set(ctx, deviceNameKey, name, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to persist device identity",
			zap.String("device_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to persist device identity: %w", err)
	}
	util.Info("Device identity persisted",
		zap.String("device_id", id),
		zap.String("device_name", name))
	return nil
}

func (c *StateCache) DeviceName(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	name, err := c.client.GetOrEmpty(ctx, deviceNameKey)
	if err != nil {
		return "", fmt.Errorf("failed to read device name: %w", err)
	}
	return name, nil
}

func (c *StateCache) CredentialID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	id, err := c.client.GetOrEmpty(ctx, credentialIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to read credential id: %w", err)
	}
	return id, nil
}

func (c *StateCache) SetCredentialID(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, credentialIDKey, id, 0); err != nil {
		util.Error("Failed to persist credential id", zap.Error(err))
		return fmt.Errorf("failed to persist credential id: %w", err)
	}
	util.Debug("Biometric credential id persisted")
	return nil
}

func (c *StateCache) ClearCredentialID(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, credentialIDKey); err != nil {
		util.Error("Failed to clear credential id", zap.Error(err))
		return fmt.Errorf("failed to clear credential id: %w", err)
	}
	util.Info("Biometric credential id cleared")
	return nil
}

func (c *StateCache) PINVersion(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	s, err := c.client.GetOrEmpty(ctx, pinVersionKey)
	if err != nil {
		util.Error("Failed to read device PIN version", zap.Error(err))
		return 0, fmt.Errorf("failed to read device PIN version: %w", err)
	}
	if s == "" {
		return 0, nil
	}
	version, err := strconv.Atoi(s)
	if err != nil {
		util.Error("Invalid device PIN version format",
			zap.String("value", s),
			zap.Error(err))
		return 0, fmt.Errorf("invalid device PIN version format: %w", err)
	}
	return version, nil
}

func (c *StateCache) SetPINVersion(ctx context.Context, version int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, pinVersionKey, strconv.Itoa(version), 0); err != nil {
		util.Error("Failed to persist device PIN version",
			zap.Int("pin_version", version),
			zap.Error(err))
		return fmt.Errorf("failed to persist device PIN version: %w", err)
	}
	util.Debug("Device PIN version persisted", zap.Int("pin_version", version))
	return nil
}

func (c *StateCache) Locked(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	s, err := c.client.GetOrEmpty(ctx, lockedKey)
	if err != nil {
		util.Error("Failed to read locked flag", zap.Error(err))
		return false, fmt.Errorf("failed to read locked flag: %w", err)
	}
	return s == "1", nil
}

func (c *StateCache) SetLocked(ctx context.Context, locked bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	value := "0"
	if locked {
		value = "1"
	}
	if err := c.client.Set(ctx, lockedKey, value, 0); err != nil {
		util.Error("Failed to persist locked flag",
			zap.Bool("locked", locked),
			zap.Error(err))
		return fmt.Errorf("failed to persist locked flag: %w", err)
	}
	util.Debug("Locked flag persisted", zap.Bool("locked", locked))
	return nil
}

func (c *StateCache) PINHistory(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	history, err := c.client.LRange(ctx, pinHistoryKey, 0, -1)
	if err != nil {
		util.Error("Failed to read PIN history", zap.Error(err))
		return nil, fmt.Errorf("failed to read PIN history: %w", err)
	}
	return history, nil
}

func (c *StateCache) PushPINHistory(ctx context.Context, pin string, max int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.LPushTrim(ctx, pinHistoryKey, int64(max), pin); err != nil {
		util.Error("Failed to push PIN history", zap.Error(err))
		return fmt.Errorf("failed to push PIN history: %w", err)
	}
	return nil
}

func (c *StateCache) BypassUntil(ctx context.Context) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	s, err := c.client.GetOrEmpty(ctx, bypassUntilKey)
	if err != nil {
		util.Error("Failed to read bypass expiry", zap.Error(err))
		return nil, fmt.Errorf("failed to read bypass expiry: %w", err)
	}
	if s == "" {
		return nil, nil
	}
	until, err := time.Parse(time.RFC3339, s)
	if err != nil {
		util.Error("Invalid bypass expiry format",
			zap.String("value", s),
			zap.Error(err))
		return nil, fmt.Errorf("invalid bypass expiry format: %w", err)
	}
	return &until, nil
}

func (c *StateCache) SetBypassUntil(ctx context.Context, until time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, bypassUntilKey, until.UTC().Format(time.RFC3339), 0); err != nil {
		util.Error("Failed to persist bypass expiry",
			zap.Time("until", until),
			zap.Error(err))
		return fmt.Errorf("failed to persist bypass expiry: %w", err)
	}
	util.Warn("Security bypass expiry persisted", zap.Time("until", until))
	return nil
}

func (c *StateCache) ClearBypass(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, bypassUntilKey); err != nil {
		util.Error("Failed to clear bypass expiry", zap.Error(err))
		return fmt.Errorf("failed to clear bypass expiry: %w", err)
	}
	util.Info("Security bypass expiry cleared")
	return nil
}

func (c *StateCache) Lockout(ctx context.Context) (*model.LockoutState, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	s, err := c.client.GetOrEmpty(ctx, lockoutKey)
	if err != nil {
		util.Error("Failed to read lockout state", zap.Error(err))
		return nil, fmt.Errorf("failed to read lockout state: %w", err)
	}
	if s == "" {
		return &model.LockoutState{}, nil
	}
	state := &model.LockoutState{}
	if err := json.Unmarshal([]byte(s), state); err != nil {
		util.Error("Invalid lockout state format",
			zap.String("value", s),
			zap.Error(err))
		return nil, fmt.Errorf("invalid lockout state format: %w", err)
	}
	return state, nil
}

func (c *StateCache) SetLockout(ctx context.Context, state *model.LockoutState) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode lockout state: %w", err)
	}
	if err := c.client.Set(ctx, lockoutKey, payload, 0); err != nil {
		util.Error("Failed to persist lockout state",
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.Int("lockout_level", state.LockoutLevel),
			zap.Error(err))
		return fmt.Errorf("failed to persist lockout state: %w", err)
	}
	util.Debug("Lockout state persisted",
		zap.Int("failed_attempts", state.FailedAttempts),
		zap.Int("lockout_level", state.LockoutLevel))
	return nil
}
