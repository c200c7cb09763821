package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"applock-service/internal/biometric"
	"applock-service/internal/bypass"
	"applock-service/internal/config"
	"applock-service/internal/device"
	"applock-service/internal/lockout"
	"applock-service/internal/model"
	"applock-service/internal/service"
)

// -------------------- in-memory local state --------------------

type memState struct {
	mu           sync.Mutex
	deviceID     string
	deviceName   string
	credentialID string
	pinVersion   int
	locked       bool
	history      []string
	bypassUntil  *time.Time
	lockout      *model.LockoutState
}

func (m *memState) DeviceID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID, nil
}

func (m *memState) SetDeviceID(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceID = id
	m.deviceName = name
	return nil
}

func (m *memState) DeviceName(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceName, nil
}

func (m *memState) CredentialID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentialID, nil
}

func (m *memState) SetCredentialID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentialID = id
	return nil
}

func (m *memState) ClearCredentialID(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentialID = ""
	return nil
}

func (m *memState) PINVersion(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinVersion, nil
}

func (m *memState) SetPINVersion(ctx context.Context, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinVersion = version
	return nil
}

func (m *memState) Locked(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked, nil
}

func (m *memState) SetLocked(ctx context.Context, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = locked
	return nil
}

func (m *memState) PINHistory(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...), nil
}

func (m *memState) PushPINHistory(ctx context.Context, pin string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]string{pin}, m.history...)
	if len(m.history) > max {
		m.history = m.history[:max]
	}
	return nil
}

func (m *memState) BypassUntil(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bypassUntil == nil {
		return nil, nil
	}
	cp := *m.bypassUntil
	return &cp, nil
}

func (m *memState) SetBypassUntil(ctx context.Context, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := until
	m.bypassUntil = &cp
	return nil
}

func (m *memState) ClearBypass(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bypassUntil = nil
	return nil
}

func (m *memState) Lockout(ctx context.Context) (*model.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockout == nil {
		return &model.LockoutState{}, nil
	}
	cp := *m.lockout
	return &cp, nil
}

func (m *memState) SetLockout(ctx context.Context, state *model.LockoutState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.lockout = &cp
	return nil
}

// -------------------- remote store mocks --------------------

type mockCredentials struct {
	mu     sync.Mutex
	record *model.CredentialRecord
	err    error
}

func (m *mockCredentials) Get(ctx context.Context) (*model.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.record == nil {
		return nil, model.ErrCredentialsNotFound
	}
	cp := *m.record
	return &cp, nil
}

func (m *mockCredentials) UpdateMasterPIN(ctx context.Context, newPIN string, newVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.record.MasterPIN = newPIN
	m.record.PINVersion = newVersion
	return nil
}

func (m *mockCredentials) SetSuperAdminPIN(ctx context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.SuperAdminPIN = pin
	return nil
}

func (m *mockCredentials) SetSuperAdminEmail(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.SuperAdminEmail = email
	return nil
}

type mockRegistry struct {
	mu      sync.Mutex
	entries map[string]*model.DeviceRegistryEntry
	err     error
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{entries: make(map[string]*model.DeviceRegistryEntry)}
}

func (m *mockRegistry) Upsert(ctx context.Context, entry *model.DeviceRegistryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *entry
	m.entries[entry.DeviceID] = &cp
	return nil
}

func (m *mockRegistry) Get(ctx context.Context, deviceID string) (*model.DeviceRegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	entry, ok := m.entries[deviceID]
	if !ok {
		return nil, model.ErrDeviceNotRegistered
	}
	cp := *entry
	return &cp, nil
}

func (m *mockRegistry) List(ctx context.Context) ([]*model.DeviceRegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.DeviceRegistryEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRegistry) Delete(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.entries, deviceID)
	return nil
}

func (m *mockRegistry) RevokeAllFingerprints(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, entry := range m.entries {
		entry.FingerprintEnabled = false
		entry.VerifiedPINVersion = 0
	}
	return nil
}

func (m *mockRegistry) TouchLastActive(ctx context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[deviceID]; ok {
		entry.LastActiveAt = at
	}
	return nil
}

type mockRecorder struct {
	mu     sync.Mutex
	logins []*model.LoginActivity
	alerts []*model.SecurityAlert
}

func (m *mockRecorder) RecordLogin(ctx context.Context, activity *model.LoginActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, activity)
	return nil
}

func (m *mockRecorder) RecordAlert(ctx context.Context, alert *model.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockRecorder) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logins)
}

func (m *mockRecorder) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type mockAuthenticator struct {
	createOutcome biometric.Outcome
	createID      string
	assertOutcome biometric.Outcome
	createCalls   int
	assertCalls   int
}

func (m *mockAuthenticator) Create(ctx context.Context, params biometric.CreateParams) (string, biometric.Outcome, error) {
	m.createCalls++
	return m.createID, m.createOutcome, nil
}

func (m *mockAuthenticator) Assert(ctx context.Context, credentialID string, challenge []byte) (biometric.Outcome, error) {
	m.assertCalls++
	return m.assertOutcome, nil
}

// -------------------- harness --------------------

type harness struct {
	svc      *service.AuthService
	state    *memState
	creds    *mockCredentials
	registry *mockRegistry
	recorder *mockRecorder
	authn    *mockAuthenticator
	now      time.Time
	nowMu    sync.Mutex
}

func (h *harness) clock() time.Time {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	h.now = h.now.Add(d)
}

func testConfig() config.LockConfig {
	return config.LockConfig{
		MaxPINAttempts:      3,
		FirstLockout:        5 * time.Minute,
		RepeatLockout:       10 * time.Minute,
		BypassDuration:      72 * time.Hour,
		StatusCheckInterval: 10 * time.Millisecond,
		BypassCheckInterval: 10 * time.Millisecond,
		CeremonyTimeout:     time.Second,
		PINHistorySize:      2,
		MinPINLength:        4,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		state: &memState{},
		creds: &mockCredentials{
			record: &model.CredentialRecord{
				MasterPIN:     "1234",
				SuperAdminPIN: "9999",
				PINVersion:    1,
			},
		},
		registry: newMockRegistry(),
		recorder: &mockRecorder{},
		authn: &mockAuthenticator{
			createOutcome: biometric.OutcomeGranted,
			createID:      "credential-1",
			assertOutcome: biometric.OutcomeGranted,
		},
		now: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}

	cfg := testConfig()
	h.svc = service.NewAuthService(
		h.creds,
		h.registry,
		h.state,
		lockout.NewTracker(h.state, cfg),
		bypass.NewTimer(h.state, cfg.BypassDuration),
		device.NewIdentity(h.state),
		h.authn,
		h.recorder,
		cfg,
	)
	h.svc.SetClock(h.clock)
	return h
}

// -------------------- unlock flows --------------------

func TestMasterPINUnlockRegistersDevice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	result := h.svc.AuthenticateMasterPIN(ctx, "1234")
	require.True(t, result.Success)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.IsLocked)
	require.Equal(t, 1, status.DevicePINVersion)
	require.True(t, status.CanEnableBiometrics)

	entry, err := h.registry.Get(ctx, status.DeviceID)
	require.NoError(t, err)
	require.Equal(t, 1, entry.VerifiedPINVersion)
	require.False(t, entry.FingerprintEnabled)

	// First login from a device the registry has never seen raises an
	// alert alongside the activity record.
	require.Equal(t, 1, h.recorder.loginCount())
	require.Equal(t, 1, h.recorder.alertCount())

	// A later login from the now-registered device does not.
	h.svc.LockApp(ctx)
	result = h.svc.AuthenticateMasterPIN(ctx, "1234")
	require.True(t, result.Success)
	require.Equal(t, 2, h.recorder.loginCount())
	require.Equal(t, 1, h.recorder.alertCount())
}

func TestWrongMasterPINFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	result := h.svc.AuthenticateMasterPIN(ctx, "4321")
	require.False(t, result.Success)
	require.Equal(t, 1, result.FailedAttempts)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.Zero(t, h.recorder.loginCount())
}

func TestThreeFailuresLockOutEvenTheCorrectPIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		result := h.svc.AuthenticateMasterPIN(ctx, "0000")
		require.False(t, result.Success)
		require.False(t, result.LockedOut)
	}

	result := h.svc.AuthenticateMasterPIN(ctx, "0000")
	require.False(t, result.Success)
	require.True(t, result.LockedOut)

	// The correct PIN is rejected before evaluation while the window is
	// open.
	result = h.svc.AuthenticateMasterPIN(ctx, "1234")
	require.False(t, result.Success)
	require.True(t, result.LockedOut)
	require.Positive(t, result.RetryAfterSeconds)

	h.advance(5*time.Minute + time.Second)

	result = h.svc.AuthenticateMasterPIN(ctx, "1234")
	require.True(t, result.Success)
}

func TestLockoutBudgetIsSharedAcrossPINKinds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Two wrong Super Admin PINs on the bypass form plus one wrong Master
	// PIN exhaust the shared budget.
	require.False(t, h.svc.EnableSecurityBypass(ctx, "0000").Success)
	require.False(t, h.svc.EnableSecurityBypass(ctx, "0000").Success)
	result := h.svc.AuthenticateMasterPIN(ctx, "0000")
	require.True(t, result.LockedOut)

	result = h.svc.AuthenticateMasterPIN(ctx, "1234")
	require.True(t, result.LockedOut)
}

func TestSuperAdminUnlockRegistersWithoutBiometrics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	result := h.svc.AuthenticateSuperAdmin(ctx, "9999")
	require.True(t, result.Success)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.IsLocked)

	entry, err := h.registry.Get(ctx, status.DeviceID)
	require.NoError(t, err)
	require.False(t, entry.FingerprintEnabled)
	require.Equal(t, 1, entry.VerifiedPINVersion)
}

func TestRemoteFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.creds.err = errors.New("connection refused")

	result := h.svc.AuthenticateMasterPIN(ctx, "1234")
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
}

func TestSetupRequiredWhenNoCredentials(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.creds.record = nil

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.SetupRequired)
	require.False(t, status.IsLocked)
}

// -------------------- PIN version propagation --------------------

func TestNewDeviceIsForcedToPINEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Fresh device: local version 0, remote version 1.
	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.False(t, status.CanEnableBiometrics)
	require.False(t, status.HasBiometrics)

	// Verifying the Master PIN brings the device up to the current
	// version and makes biometrics offerable.
	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)

	status, err = h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.DevicePINVersion)
	require.True(t, status.CanEnableBiometrics)
}

func TestRemoteVersionAdvanceForcesLockMidSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)

	// Another device rotates the Master PIN.
	h.creds.mu.Lock()
	h.creds.record.MasterPIN = "5678"
	h.creds.record.PINVersion = 2
	h.creds.mu.Unlock()

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.False(t, status.HasBiometrics)
	require.False(t, status.CanEnableBiometrics)

	// The local biometric credential was dropped, not restored.
	credentialID, err := h.state.CredentialID(ctx)
	require.NoError(t, err)
	require.Empty(t, credentialID)
}

func TestRemoteFingerprintRevocationForcesLockMidSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.IsLocked)

	// A Super Admin on another device flips the flag remotely.
	h.registry.mu.Lock()
	h.registry.entries[status.DeviceID].FingerprintEnabled = false
	h.registry.mu.Unlock()

	status, err = h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.False(t, status.HasBiometrics)

	credentialID, err := h.state.CredentialID(ctx)
	require.NoError(t, err)
	require.Empty(t, credentialID)
}

// -------------------- biometrics --------------------

func TestBiometricUnlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)
	h.svc.LockApp(ctx)

	result := h.svc.AuthenticateBiometric(ctx)
	require.True(t, result.Success)
	require.Equal(t, 1, h.authn.assertCalls)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.IsLocked)
}

func TestBiometricGuardSkipsCeremonyOnStaleVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)
	h.svc.LockApp(ctx)

	h.creds.mu.Lock()
	h.creds.record.PINVersion = 2
	h.creds.mu.Unlock()

	result := h.svc.AuthenticateBiometric(ctx)
	require.False(t, result.Success)
	require.Zero(t, h.authn.assertCalls)
}

func TestBiometricCancellationIsSideEffectFree(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)
	h.svc.LockApp(ctx)

	h.authn.assertOutcome = biometric.OutcomeCancelled

	result := h.svc.AuthenticateBiometric(ctx)
	require.False(t, result.Success)
	require.True(t, result.Cancelled)
	require.Empty(t, result.Error)

	// No lockout penalty and no state change.
	lockoutState, err := h.state.Lockout(ctx)
	require.NoError(t, err)
	require.Zero(t, lockoutState.FailedAttempts)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.True(t, status.HasBiometrics)
}

func TestPostCeremonyRecheckDefeatsRacedRevocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)
	h.svc.LockApp(ctx)

	// The revoke lands while the ceremony is in flight; the mock grants,
	// but the registry no longer does.
	deviceID, err := h.state.DeviceID(ctx)
	require.NoError(t, err)
	h.registry.mu.Lock()
	h.registry.entries[deviceID].FingerprintEnabled = false
	h.registry.mu.Unlock()

	result := h.svc.AuthenticateBiometric(ctx)
	require.False(t, result.Success)
	require.Equal(t, 1, h.authn.assertCalls)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)

	credentialID, err := h.state.CredentialID(ctx)
	require.NoError(t, err)
	require.Empty(t, credentialID)
}

func TestDisableBiometrics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)

	result := h.svc.DisableBiometrics(ctx)
	require.True(t, result.Success)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.HasBiometrics)
	// Disabling biometrics does not force a lock.
	require.False(t, status.IsLocked)
}

// -------------------- master PIN rotation --------------------

func TestChangeMasterPINRevokesEveryDevice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)

	// Other devices with active biometric grants.
	for _, id := range []string{"device-b", "device-c"} {
		require.NoError(t, h.registry.Upsert(ctx, &model.DeviceRegistryEntry{
			DeviceID:           id,
			DeviceName:         "Android Device",
			FingerprintEnabled: true,
			VerifiedPINVersion: 1,
		}))
	}

	result := h.svc.ChangeMasterPIN(ctx, "5678", "9999")
	require.True(t, result.Success)

	h.creds.mu.Lock()
	require.Equal(t, "5678", h.creds.record.MasterPIN)
	require.Equal(t, 2, h.creds.record.PINVersion)
	h.creds.mu.Unlock()

	devices, err := h.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 3)
	for _, entry := range devices {
		require.False(t, entry.FingerprintEnabled, "device %s", entry.DeviceID)
		require.Zero(t, entry.VerifiedPINVersion, "device %s", entry.DeviceID)
	}

	// The changing device keeps its local version current but loses its
	// own biometric credential like everyone else.
	version, err := h.state.PINVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, version)

	credentialID, err := h.state.CredentialID(ctx)
	require.NoError(t, err)
	require.Empty(t, credentialID)
}

func TestChangeMasterPINRequiresSuperAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	result := h.svc.ChangeMasterPIN(ctx, "5678", "0000")
	require.False(t, result.Success)
	require.Equal(t, 1, result.FailedAttempts)

	h.creds.mu.Lock()
	require.Equal(t, "1234", h.creds.record.MasterPIN)
	require.Equal(t, 1, h.creds.record.PINVersion)
	h.creds.mu.Unlock()
}

func TestChangeMasterPINRejectsCurrentAndHistoricalPINs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Same as current.
	require.False(t, h.svc.ChangeMasterPIN(ctx, "1234", "9999").Success)

	// Rotate twice so the history holds both old values.
	require.True(t, h.svc.ChangeMasterPIN(ctx, "5678", "9999").Success)
	require.True(t, h.svc.ChangeMasterPIN(ctx, "2468", "9999").Success)

	// Both recent PINs are rejected.
	require.False(t, h.svc.ChangeMasterPIN(ctx, "1234", "9999").Success)
	require.False(t, h.svc.ChangeMasterPIN(ctx, "5678", "9999").Success)

	// Too-short and non-numeric values are rejected as well.
	require.False(t, h.svc.ChangeMasterPIN(ctx, "123", "9999").Success)
	require.False(t, h.svc.ChangeMasterPIN(ctx, "12ab", "9999").Success)

	// Any other 4+ digit value is accepted.
	require.True(t, h.svc.ChangeMasterPIN(ctx, "13579", "9999").Success)

	h.creds.mu.Lock()
	require.Equal(t, 4, h.creds.record.PINVersion)
	h.creds.mu.Unlock()
}

// -------------------- super admin setup --------------------

func TestSetupSuperAdminFirstTimeGatedOnMasterPIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.creds.record.SuperAdminPIN = ""

	// Privileged operations refuse before any super admin exists.
	result := h.svc.EnableSecurityBypass(ctx, "9999")
	require.False(t, result.Success)

	// The Master PIN gates first-time setup; a wrong one counts.
	result = h.svc.SetupSuperAdmin(ctx, "9999", "owner@example.com", "0000")
	require.False(t, result.Success)
	require.Equal(t, 1, result.FailedAttempts)

	result = h.svc.SetupSuperAdmin(ctx, "9999", "owner@example.com", "1234")
	require.True(t, result.Success)

	h.creds.mu.Lock()
	require.Equal(t, "9999", h.creds.record.SuperAdminPIN)
	require.Equal(t, "owner@example.com", h.creds.record.SuperAdminEmail)
	h.creds.mu.Unlock()

	require.True(t, h.svc.EnableSecurityBypass(ctx, "9999").Success)
}

func TestSetupSuperAdminRotationRequiresCurrentPIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	result := h.svc.SetupSuperAdmin(ctx, "8888", "", "1234")
	require.False(t, result.Success)
	require.Equal(t, 1, result.FailedAttempts)

	result = h.svc.SetupSuperAdmin(ctx, "8888", "", "9999")
	require.True(t, result.Success)

	h.creds.mu.Lock()
	require.Equal(t, "8888", h.creds.record.SuperAdminPIN)
	h.creds.mu.Unlock()
}

// -------------------- device revocation --------------------

func TestRevokeOtherDevice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.registry.Upsert(ctx, &model.DeviceRegistryEntry{
		DeviceID:           "device-b",
		FingerprintEnabled: true,
		VerifiedPINVersion: 1,
	}))

	result := h.svc.RevokeDeviceFingerprint(ctx, "device-b", "9999")
	require.True(t, result.Success)

	_, err := h.registry.Get(ctx, "device-b")
	require.ErrorIs(t, err, model.ErrDeviceNotRegistered)
}

func TestRevokeCurrentDeviceClearsLocalBiometrics(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.RegisterBiometrics(ctx).Success)

	deviceID, err := h.state.DeviceID(ctx)
	require.NoError(t, err)

	result := h.svc.RevokeDeviceFingerprint(ctx, deviceID, "9999")
	require.True(t, result.Success)

	credentialID, err := h.state.CredentialID(ctx)
	require.NoError(t, err)
	require.Empty(t, credentialID)
}

// -------------------- security bypass --------------------

func TestBypassRequiresSuperAdminAndUnlocks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.False(t, h.svc.EnableSecurityBypass(ctx, "0000").Success)

	result := h.svc.EnableSecurityBypass(ctx, "9999")
	require.True(t, result.Success)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.IsLocked)
	require.True(t, status.SecurityBypassed)
	require.NotNil(t, status.BypassRemaining)
	require.Equal(t, 3, status.BypassRemaining.Days)
	require.Zero(t, status.BypassRemaining.Hours)

	// An hour into the window the breakdown ticks down.
	h.advance(time.Hour)
	status, err = h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.BypassRemaining.Days)
	require.Equal(t, 23, status.BypassRemaining.Hours)
}

func TestDisableBypassForcesLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.True(t, h.svc.EnableSecurityBypass(ctx, "9999").Success)
	require.True(t, h.svc.DisableSecurityBypass(ctx).Success)

	status, err := h.svc.CheckAuthStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.IsLocked)
	require.False(t, status.SecurityBypassed)
}

func TestBypassExpiryForcesLockWithoutUserAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)

	// Verify the PIN first so the status poller has nothing to re-lock.
	require.True(t, h.svc.AuthenticateMasterPIN(ctx, "1234").Success)
	require.True(t, h.svc.EnableSecurityBypass(ctx, "9999").Success)

	h.svc.StartBackgroundTasks(ctx)
	h.advance(73 * time.Hour)

	require.Eventually(t, func() bool {
		status, err := h.svc.CheckAuthStatus(ctx)
		return err == nil && status.IsLocked
	}, 2*time.Second, 20*time.Millisecond)

	// The stored expiry was cleared.
	until, err := h.state.BypassUntil(ctx)
	require.NoError(t, err)
	require.Nil(t, until)
}

// -------------------- startup resolution --------------------

func TestInitialStatePriority(t *testing.T) {
	ctx := context.Background()

	t.Run("active bypass wins", func(t *testing.T) {
		h := newHarness(t)
		until := h.clock().Add(time.Hour)
		require.NoError(t, h.state.SetBypassUntil(ctx, until))
		require.NoError(t, h.state.SetLocked(ctx, true))

		locked, err := h.svc.ResolveInitialState(ctx)
		require.NoError(t, err)
		require.False(t, locked)
	})

	t.Run("persisted locked flag", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.state.SetLocked(ctx, true))

		locked, err := h.svc.ResolveInitialState(ctx)
		require.NoError(t, err)
		require.True(t, locked)
	})

	t.Run("fresh launch locks", func(t *testing.T) {
		h := newHarness(t)

		locked, err := h.svc.ResolveInitialState(ctx)
		require.NoError(t, err)
		require.True(t, locked)
	})
}
