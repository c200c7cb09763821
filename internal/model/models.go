package model

import (
	"context"
	"errors"
	"time"
)

// Errors shared across repository implementations
var (
	ErrCredentialsNotFound = errors.New("credentials not set up")
	ErrDeviceNotRegistered = errors.New("device not registered")
)

// Login methods recorded in the audit trail
const (
	LoginMethodMasterPIN  = "master_pin"
	LoginMethodSuperAdmin = "super_admin_pin"
	LoginMethodBiometric  = "biometric"
)

// -------------------- CREDENTIAL RECORD --------------------
// One global row shared by every device of the business. PINs are stored
// and compared as plaintext values; the PIN version increments by exactly
// one on every Master PIN change and never decreases.
type CredentialRecord struct {
	MasterPIN       string    `json:"-" db:"master_pin"`
	SuperAdminPIN   string    `json:"-" db:"super_admin_pin"`
	SuperAdminEmail string    `json:"super_admin_email" db:"super_admin_email"`
	PINVersion      int       `json:"pin_version" db:"pin_version"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// HasSuperAdmin reports whether a Super Admin PIN has been configured
func (c *CredentialRecord) HasSuperAdmin() bool {
	return c.SuperAdminPIN != ""
}

// -------------------- DEVICE REGISTRY ENTRY --------------------
// One row per device, keyed by device_id with upsert semantics.
// A device may use biometrics only while FingerprintEnabled is true AND
// VerifiedPINVersion >= the current global PIN version.
type DeviceRegistryEntry struct {
	DeviceID           string    `json:"device_id" db:"device_id"`
	DeviceName         string    `json:"device_name" db:"device_name"`
	FingerprintEnabled bool      `json:"fingerprint_enabled" db:"fingerprint_enabled"`
	VerifiedPINVersion int       `json:"verified_pin_version" db:"verified_pin_version"`
	LastPINVerifiedAt  time.Time `json:"last_pin_verified_at" db:"last_pin_verified_at"`
	LastActiveAt       time.Time `json:"last_active_at" db:"last_active_at"`
}

// -------------------- LOCKOUT STATE --------------------
// Local per-device rate limiting of PIN guesses. Master, Super Admin and
// bypass PIN entry all count against the same budget. LockoutLevel is
// sticky: it survives successful unlocks and lockout expiry, so a device
// that has ever escalated keeps the longer duration.
type LockoutState struct {
	FailedAttempts int        `json:"failed_attempts"`
	LockoutUntil   *time.Time `json:"lockout_until,omitempty"`
	LockoutLevel   int        `json:"lockout_level"`
}

// LockedOut reports whether the lockout window is still open at now
func (s *LockoutState) LockedOut(now time.Time) bool {
	return s.LockoutUntil != nil && now.Before(*s.LockoutUntil)
}

// -------------------- LOGIN ACTIVITY --------------------
type LoginActivity struct {
	EventID            string    `json:"event_id"`
	DeviceID           string    `json:"device_id"`
	DeviceName         string    `json:"device_name"`
	LoginMethod        string    `json:"login_method"`
	IsAuthorizedDevice bool      `json:"is_authorized_device"`
	DeviceBucket       int       `json:"device_bucket"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// SecurityAlert is raised when a login comes from a device the registry
// does not know about
type SecurityAlert struct {
	AlertID    string    `json:"alert_id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

// CredentialRepository provides access to the hosted credential row
type CredentialRepository interface {
	Get(ctx context.Context) (*CredentialRecord, error)
	// UpdateMasterPIN writes the new PIN and its version in one statement
	UpdateMasterPIN(ctx context.Context, newPIN string, newVersion int) error
	SetSuperAdminPIN(ctx context.Context, pin string) error
	SetSuperAdminEmail(ctx context.Context, email string) error
}

// DeviceRegistry provides access to the hosted per-device records
type DeviceRegistry interface {
	Upsert(ctx context.Context, entry *DeviceRegistryEntry) error
	Get(ctx context.Context, deviceID string) (*DeviceRegistryEntry, error)
	// List returns all entries ordered by last activity, most recent first
	List(ctx context.Context) ([]*DeviceRegistryEntry, error)
	Delete(ctx context.Context, deviceID string) error
	// RevokeAllFingerprints disables biometrics and zeroes the verified
	// PIN version on every row
	RevokeAllFingerprints(ctx context.Context) error
	TouchLastActive(ctx context.Context, deviceID string, at time.Time) error
}

// LocalState holds the device-local persisted facts the lock screen is
/// computed from. The session-active flag is deliberately absent: it lives
// in process memory so that it dies with the process.
type LocalState interface {
	DeviceID(ctx context.Context) (string, error)
	SetDeviceID(ctx context.Context, id, name string) error
	DeviceName(ctx context.Context) (string, error)

	CredentialID(ctx context.Context) (string, error)
	SetCredentialID(ctx context.Context, id string) error
	ClearCredentialID(ctx context.Context) error

	PINVersion(ctx context.Context) (int, error)
	SetPINVersion(ctx context.Context, version int) error

	Locked(ctx context.Context) (bool, error)
	SetLocked(ctx context.Context, locked bool) error

	PINHistory(ctx context.Context) ([]string, error)
	PushPINHistory(ctx context.Context, pin string, max int) error

	BypassUntil(ctx context.Context) (*time.Time, error)
	SetBypassUntil(ctx context.Context, until time.Time) error
	ClearBypass(ctx context.Context) error

	Lockout(ctx context.Context) (*LockoutState, error)
	SetLockout(ctx context.Context, state *LockoutState) error
}

// ActivityRecorder is the audit side-channel. Implementations must never
/// fail an unlock: errors are logged and swallowed upstream.
type ActivityRecorder interface {
	RecordLogin(ctx context.Context, activity *LoginActivity) error
	RecordAlert(ctx context.Context, alert *SecurityAlert) error
}
