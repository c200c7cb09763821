package scylla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"applock-service/internal/model"
	"applock-service/internal/util"
)

// RegistryRepository manages the per-device rows of the hosted registry
type RegistryRepository struct {
	client *ScyllaClient
}

func NewRegistryRepository(client *ScyllaClient, logger *zap.Logger) *RegistryRepository {
	return &RegistryRepository{
		client: client,
	}
}

// Upsert overwrites the device's row; re-registering a known device is a
// plain overwrite by design of the registry key.
func (r *RegistryRepository) Upsert(ctx context.Context, entry *model.DeviceRegistryEntry) error {
	query := r.client.Prepared.UpsertDevice.WithContext(ctx).Bind(
		entry.DeviceID, entry.DeviceName, entry.FingerprintEnabled,
		entry.VerifiedPINVersion, entry.LastPINVerifiedAt, entry.LastActiveAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert device registry entry",
			zap.String("device_id", entry.DeviceID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert device registry entry: %w", err)
	}

	util.Info("Device registry entry upserted",
		zap.String("device_id", entry.DeviceID),
		zap.Bool("fingerprint_enabled", entry.FingerprintEnabled),
		zap.Int("verified_pin_version", entry.VerifiedPINVersion))

	return nil
}

func (r *RegistryRepository) Get(ctx context.Context, deviceID string) (*model.DeviceRegistryEntry, error) {
	entry := &model.DeviceRegistryEntry{}

	query := r.client.Prepared.GetDevice.WithContext(ctx).Bind(deviceID)

	err := r.client.ScanWithRetry(query,
		&entry.DeviceID, &entry.DeviceName, &entry.FingerprintEnabled,
		&entry.VerifiedPINVersion, &entry.LastPINVerifiedAt, &entry.LastActiveAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrDeviceNotRegistered
		}
		util.Error("Failed to get device registry entry",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get device registry entry: %w", err)
	}

	return entry, nil
}

// List returns every registered device, most recently active first.
// Ordering happens client-side; the registry holds at most a handful of
// terminals per business.
func (r *RegistryRepository) List(ctx context.Context) ([]*model.DeviceRegistryEntry, error) {
	iter := r.client.Session.Query(`
        SELECT device_id, device_name, fingerprint_enabled, verified_pin_version,
            last_pin_verified_at, last_active_at
        FROM devices`).WithContext(ctx).Iter()

	var entries []*model.DeviceRegistryEntry
	var entry model.DeviceRegistryEntry
	for iter.Scan(&entry.DeviceID, &entry.DeviceName, &entry.FingerprintEnabled,
		&entry.VerifiedPINVersion, &entry.LastPINVerifiedAt, &entry.LastActiveAt) {
		e := entry
		entries = append(entries, &e)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list device registry entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list device registry entries: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastActiveAt.After(entries[j].LastActiveAt)
	})

	return entries, nil
}

func (r *RegistryRepository) Delete(ctx context.Context, deviceID string) error {
	query := r.client.Prepared.DeleteDevice.WithContext(ctx).Bind(deviceID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete device registry entry",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to delete device registry entry: %w", err)
	}

	util.Warn("Device registry entry deleted",
		zap.String("device_id", deviceID))

	return nil
}

// RevokeAllFingerprints disables biometrics and zeroes the verified PIN
// version for every device. Ran as part of a Master PIN change, so partial
// failure must be surfaced: a row left enabled would keep a stale grant.
func (r *RegistryRepository) RevokeAllFingerprints(ctx context.Context) error {
	iter := r.client.Prepared.ListDeviceIDs.WithContext(ctx).Iter()

	var deviceIDs []string
	var id string
	for iter.Scan(&id) {
		deviceIDs = append(deviceIDs, id)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to list devices for revocation: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, deviceID := range deviceIDs {
		deviceID := deviceID
		g.Go(func() error {
			query := r.client.Session.Query(`
                UPDATE devices SET fingerprint_enabled = false, verified_pin_version = 0
                WHERE device_id = ?`, deviceID).WithContext(ctx)
			if err := r.client.ExecuteWithRetry(query, 2); err != nil {
				return fmt.Errorf("failed to revoke fingerprint for device %s: %w", deviceID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		util.Error("Global fingerprint revocation failed", zap.Error(err))
		return err
	}

	util.Warn("All device fingerprints revoked",
		zap.Int("device_count", len(deviceIDs)))

	return nil
}

func (r *RegistryRepository) TouchLastActive(ctx context.Context, deviceID string, at time.Time) error {
	query := r.client.Prepared.TouchDevice.WithContext(ctx).Bind(at, deviceID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to touch device last_active_at",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return fmt.Errorf("failed to touch device last_active_at: %w", err)
	}

	return nil
}
