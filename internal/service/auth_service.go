package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"applock-service/internal/biometric"
	"applock-service/internal/bypass"
	"applock-service/internal/config"
	"applock-service/internal/device"
	"applock-service/internal/lockout"
	"applock-service/internal/model"
	"applock-service/internal/util"
)

// User-facing error strings. Remote failures are never surfaced verbatim:
// every Credential Store or Device Registry error collapses into the
// generic message and the device stays (or returns to) Locked.
const (
	errGenericFailure      = "verification is currently unavailable, please try again"
	errInvalidPIN          = "incorrect PIN"
	errInvalidSuperAdmin   = "invalid super admin PIN"
	errLockedOut           = "too many failed attempts, try again later"
	errPINTooShort         = "PIN is too short"
	errPINNotDigits        = "PIN must contain only digits"
	errPINReused           = "new PIN must differ from the current and recent PINs"
	errBiometricsNotSetUp  = "biometrics are not set up on this device"
	errBiometricsStale     = "PIN verification required before biometrics can be used"
	errBiometricsFailed    = "biometric verification failed"
	errBiometricsNoSupport = "biometrics are not supported on this device"
	errNoSuperAdmin        = "super admin PIN has not been configured"
)

// Result is the outcome contract shared with the UI layer
type Result struct {
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	Cancelled         bool   `json:"cancelled,omitempty"`
	LockedOut         bool   `json:"locked_out,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	FailedAttempts    int    `json:"failed_attempts,omitempty"`
}

func failure(msg string) *Result { return &Result{Success: false, Error: msg} }

// Status is the lock-screen view of the state machine
type Status struct {
	IsLocked                bool              `json:"is_locked"`
	SetupRequired           bool              `json:"setup_required"`
	HasBiometrics           bool              `json:"has_biometrics"`
	CanEnableBiometrics     bool              `json:"can_enable_biometrics"`
	CurrentPINVersion       int               `json:"current_pin_version"`
	DevicePINVersion        int               `json:"device_pin_version"`
	HasSuperAdminSetup      bool              `json:"has_super_admin_setup"`
	DeviceID                string            `json:"device_id"`
	DeviceName              string            `json:"device_name"`
	SecurityBypassed        bool              `json:"security_bypassed"`
	BypassRemaining         *bypass.Remaining `json:"bypass_remaining,omitempty"`
	LockedOut               bool              `json:"locked_out"`
	LockoutRemainingSeconds int               `json:"lockout_remaining_seconds,omitempty"`
}

// AuthService is the single source of truth for the Locked/Unlocked
// decision. All operations are serialized: state transitions are
// sequential from any caller's point of view.
type AuthService struct {
	credentials   model.CredentialRepository
	registry      model.DeviceRegistry
	state         model.LocalState
	tracker       *lockout.Tracker
	bypassTimer   *bypass.Timer
	identity      *device.Identity
	authenticator biometric.Authenticator
	recorder      model.ActivityRecorder
	lockCfg       config.LockConfig

	mu            sync.Mutex
	locked        bool
	sessionActive bool // dies with the process, never persisted
	now           func() time.Time
}

func NewAuthService(
	credentials model.CredentialRepository,
	registry model.DeviceRegistry,
	state model.LocalState,
	tracker *lockout.Tracker,
	bypassTimer *bypass.Timer,
	identity *device.Identity,
	authenticator biometric.Authenticator,
	recorder model.ActivityRecorder,
	lockCfg config.LockConfig,
) *AuthService {
	return &AuthService{
		credentials:   credentials,
		registry:      registry,
		state:         state,
		tracker:       tracker,
		bypassTimer:   bypassTimer,
		identity:      identity,
		authenticator: authenticator,
		recorder:      recorder,
		lockCfg:       lockCfg,
		locked:        true,
		now:           time.Now,
	}
}

// SetClock overrides the time source for tests
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.tracker.SetClock(now)
	s.bypassTimer.SetClock(now)
}

// ResolveInitialState computes the lock state on startup. Priority:
// an active security bypass wins, then the persisted locked flag, then a
// still-running session; a fresh launch defaults to Locked.
func (s *AuthService) ResolveInitialState(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.identity.GetOrCreate(ctx, ""); err != nil {
		return true, fmt.Errorf("failed to resolve device identity: %w", err)
	}

	bypassed, err := s.bypassTimer.Active(ctx)
	if err != nil {
		util.Warn("Failed to read bypass state on startup", zap.Error(err))
	}
	if bypassed {
		s.locked = false
		s.sessionActive = true
		util.Info("Startup state resolved: security bypass active")
		return false, nil
	}

	persistedLocked, err := s.state.Locked(ctx)
	if err != nil {
		util.Warn("Failed to read locked flag on startup", zap.Error(err))
		persistedLocked = true
	}
	if persistedLocked {
		s.locked = true
		util.Info("Startup state resolved: persisted locked flag set")
		return true, nil
	}

	if s.sessionActive {
		s.locked = false
		return false, nil
	}

	s.locked = true
	util.Info("Startup state resolved: fresh launch, locked")
	return true, nil
}

// CheckAuthStatus reconciles local state against the Credential Store and
// Device Registry. A remote PIN version newer than the locally verified one
// forces Locked and drops biometrics; a remotely revoked fingerprint flag
// does the same even mid-session.
func (s *AuthService) CheckAuthStatus(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, deviceName, err := s.identity.GetOrCreate(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device identity: %w", err)
	}

	status := &Status{
		DeviceID:   deviceID,
		DeviceName: deviceName,
	}

	cred, err := s.credentials.Get(ctx)
	if err != nil {
		if err == model.ErrCredentialsNotFound {
			// No Master PIN configured yet: nothing to lock against.
			status.SetupRequired = true
			status.IsLocked = false
			return status, nil
		}
		// Fail closed: without the remote record nothing can be verified.
		util.Error("Status check failed to reach credential store", zap.Error(err))
		s.forceLockLocked(ctx)
		status.IsLocked = true
		return status, nil
	}

	localVersion, err := s.state.PINVersion(ctx)
	if err != nil {
		util.Warn("Failed to read local PIN version", zap.Error(err))
	}

	status.CurrentPINVersion = cred.PINVersion
	status.DevicePINVersion = localVersion
	status.HasSuperAdminSetup = cred.HasSuperAdmin()

	if cred.PINVersion > localVersion {
		util.Info("Remote PIN version is newer, forcing lock",
			zap.Int("remote_version", cred.PINVersion),
			zap.Int("device_version", localVersion))
		if err := s.state.ClearCredentialID(ctx); err != nil {
			util.Warn("Failed to clear biometric credential", zap.Error(err))
		}
		s.forceLockLocked(ctx)
	}

	credentialID, err := s.state.CredentialID(ctx)
	if err != nil {
		util.Warn("Failed to read biometric credential", zap.Error(err))
	}

	entry, err := s.registry.Get(ctx, deviceID)
	switch {
	case err == model.ErrDeviceNotRegistered:
		// Not registered yet: first PIN verification will create the row.
	case err != nil:
		util.Error("Status check failed to reach device registry", zap.Error(err))
		s.forceLockLocked(ctx)
	case !entry.FingerprintEnabled && credentialID != "":
		// Remote revocation propagating to an already-unlocked session.
		util.Info("Fingerprint revoked remotely, dropping local biometrics",
			zap.String("device_id", deviceID))
		if err := s.state.ClearCredentialID(ctx); err != nil {
			util.Warn("Failed to clear biometric credential", zap.Error(err))
		}
		credentialID = ""
		s.forceLockLocked(ctx)
	default:
		status.HasBiometrics = credentialID != "" &&
			entry.FingerprintEnabled &&
			entry.VerifiedPINVersion >= cred.PINVersion
	}

	status.CanEnableBiometrics = localVersion >= cred.PINVersion

	if bypassed, err := s.bypassTimer.Active(ctx); err == nil && bypassed {
		status.SecurityBypassed = true
		if remaining, ok, err := s.bypassTimer.Remaining(ctx); err == nil && ok {
			status.BypassRemaining = &remaining
		}
		s.locked = false
	}

	if blocked, remaining, err := s.tracker.Blocked(ctx); err == nil && blocked {
		status.LockedOut = true
		status.LockoutRemainingSeconds = int(remaining.Seconds()) + 1
	}

	status.IsLocked = s.locked
	return status, nil
}

// AuthenticateBiometric runs the platform assertion ceremony. The version
// guard rejects before the ceremony; a post-ceremony registry re-check
// defends against a revocation that raced it. Cancellation leaves every
// piece of state untouched.
func (s *AuthService) AuthenticateBiometric(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, deviceName, err := s.identity.GetOrCreate(ctx, "")
	if err != nil {
		return failure(errGenericFailure)
	}

	cred, err := s.credentials.Get(ctx)
	if err != nil {
		util.Error("Biometric unlock failed to reach credential store", zap.Error(err))
		return failure(errGenericFailure)
	}

	localVersion, err := s.state.PINVersion(ctx)
	if err != nil || localVersion < cred.PINVersion {
		return failure(errBiometricsStale)
	}

	credentialID, err := s.state.CredentialID(ctx)
	if err != nil || credentialID == "" {
		return failure(errBiometricsNotSetUp)
	}

	ceremonyCtx, cancel := context.WithTimeout(ctx, s.lockCfg.CeremonyTimeout)
	defer cancel()

	outcome, err := s.authenticator.Assert(ceremonyCtx, credentialID, biometric.NewChallenge())
	switch outcome {
	case biometric.OutcomeCancelled:
		util.Debug("Biometric ceremony cancelled by user",
			zap.String("device_id", deviceID))
		return &Result{Success: false, Cancelled: true}
	case biometric.OutcomeUnsupported:
		return failure(errBiometricsNoSupport)
	case biometric.OutcomeGranted:
		// fall through to the registry re-check
	default:
		util.Warn("Biometric ceremony failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return failure(errBiometricsFailed)
	}

	// A revoke may have landed while the user's finger was on the sensor.
	entry, err := s.registry.Get(ctx, deviceID)
	if err != nil || !entry.FingerprintEnabled || entry.VerifiedPINVersion < cred.PINVersion {
		util.Info("Post-ceremony registry check rejected biometric unlock",
			zap.String("device_id", deviceID),
			zap.Error(err))
		if clearErr := s.state.ClearCredentialID(ctx); clearErr != nil {
			util.Warn("Failed to clear biometric credential", zap.Error(clearErr))
		}
		return failure(errBiometricsFailed)
	}

	if err := s.unlockLocked(ctx); err != nil {
		return failure(errGenericFailure)
	}
	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}
	if err := s.registry.TouchLastActive(ctx, deviceID, s.now().UTC()); err != nil {
		util.Warn("Failed to touch device activity", zap.Error(err))
	}

	s.recordLogin(ctx, deviceID, deviceName, model.LoginMethodBiometric, true)

	util.Info("Biometric unlock granted", zap.String("device_id", deviceID))
	return &Result{Success: true}
}

// AuthenticateMasterPIN compares the supplied PIN against the hosted
// Master PIN. A match registers or refreshes this device at the current
// PIN version; a mismatch counts against the shared lockout budget.
func (s *AuthService) AuthenticateMasterPIN(ctx context.Context, pin string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res := s.checkLockout(ctx); res != nil {
		return res
	}
	if res := validatePINFormat(pin, s.lockCfg.MinPINLength); res != nil {
		return res
	}

	deviceID, deviceName, err := s.identity.GetOrCreate(ctx, "")
	if err != nil {
		return failure(errGenericFailure)
	}

	cred, err := s.credentials.Get(ctx)
	if err != nil {
		util.Error("Master PIN unlock failed to reach credential store", zap.Error(err))
		return failure(errGenericFailure)
	}

	if pin != cred.MasterPIN {
		return s.recordPINFailure(ctx, errInvalidPIN)
	}

	authorized, err := s.registerDevice(ctx, deviceID, deviceName, cred.PINVersion, true)
	if err != nil {
		return failure(errGenericFailure)
	}

	if err := s.unlockLocked(ctx); err != nil {
		return failure(errGenericFailure)
	}
	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}

	s.recordLogin(ctx, deviceID, deviceName, model.LoginMethodMasterPIN, authorized)

	util.Info("Master PIN unlock granted",
		zap.String("device_id", deviceID),
		zap.Int("pin_version", cred.PINVersion))
	return &Result{Success: true}
}

// AuthenticateSuperAdmin is the emergency unlock path. It registers the
// device like a Master PIN verification but never enables biometrics.
func (s *AuthService) AuthenticateSuperAdmin(ctx context.Context, pin string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res := s.checkLockout(ctx); res != nil {
		return res
	}
	if res := validatePINFormat(pin, s.lockCfg.MinPINLength); res != nil {
		return res
	}

	deviceID, deviceName, err := s.identity.GetOrCreate(ctx, "")
	if err != nil {
		return failure(errGenericFailure)
	}

	cred, res := s.verifySuperAdmin(ctx, pin)
	if res != nil {
		return res
	}

	authorized, err := s.registerDevice(ctx, deviceID, deviceName, cred.PINVersion, false)
	if err != nil {
		return failure(errGenericFailure)
	}

	if err := s.unlockLocked(ctx); err != nil {
		return failure(errGenericFailure)
	}
	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}

	s.recordLogin(ctx, deviceID, deviceName, model.LoginMethodSuperAdmin, authorized)

	util.Info("Super admin unlock granted", zap.String("device_id", deviceID))
	return &Result{Success: true}
}

// RegisterBiometrics runs the platform credential-creation ceremony and
// marks biometrics enabled for this device at the current PIN version.
func (s *AuthService) RegisterBiometrics(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, deviceName, err := s.identity.GetOrCreate(ctx, "")
	if err != nil {
		return failure(errGenericFailure)
	}

	cred, err := s.credentials.Get(ctx)
	if err != nil {
		util.Error("Biometric registration failed to reach credential store", zap.Error(err))
		return failure(errGenericFailure)
	}

	localVersion, err := s.state.PINVersion(ctx)
	if err != nil || localVersion < cred.PINVersion {
		return failure(errBiometricsStale)
	}

	ceremonyCtx, cancel := context.WithTimeout(ctx, s.lockCfg.CeremonyTimeout)
	defer cancel()

	credentialID, outcome, err := s.authenticator.Create(ceremonyCtx, biometric.CreateParams{
		DeviceID:   deviceID,
		DeviceName: deviceName,
	})
	switch outcome {
	case biometric.OutcomeCancelled:
		util.Debug("Biometric enrollment cancelled by user",
			zap.String("device_id", deviceID))
		return &Result{Success: false, Cancelled: true}
	case biometric.OutcomeUnsupported:
		return failure(errBiometricsNoSupport)
	case biometric.OutcomeGranted:
	default:
		util.Warn("Biometric enrollment failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return failure(errBiometricsFailed)
	}

	if err := s.state.SetCredentialID(ctx, credentialID); err != nil {
		util.Error("Failed to persist biometric credential", zap.Error(err))
		return failure(errGenericFailure)
	}

	now := s.now().UTC()
	entry := &model.DeviceRegistryEntry{
		DeviceID:           deviceID,
		DeviceName:         deviceName,
		FingerprintEnabled: true,
		VerifiedPINVersion: cred.PINVersion,
		LastPINVerifiedAt:  now,
		LastActiveAt:       now,
	}
	if err := s.registry.Upsert(ctx, entry); err != nil {
		util.Error("Failed to record biometric enrollment", zap.Error(err))
		return failure(errGenericFailure)
	}

	if err := s.unlockLocked(ctx); err != nil {
		return failure(errGenericFailure)
	}

	util.Info("Biometrics registered",
		zap.String("device_id", deviceID),
		zap.Int("pin_version", cred.PINVersion))
	return &Result{Success: true}
}

// DisableBiometrics drops the local credential and flips the registry
// flag. It does not force a lock.
func (s *AuthService) DisableBiometrics(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, deviceName, err := s.identity.GetOrCreate(ctx, "")
	if err != nil {
		return failure(errGenericFailure)
	}

	if err := s.state.ClearCredentialID(ctx); err != nil {
		util.Error("Failed to clear biometric credential", zap.Error(err))
		return failure(errGenericFailure)
	}

	entry, err := s.registry.Get(ctx, deviceID)
	if err == model.ErrDeviceNotRegistered {
		return &Result{Success: true}
	}
	if err != nil {
		util.Error("Failed to read device registry entry", zap.Error(err))
		return failure(errGenericFailure)
	}

	entry.DeviceName = deviceName
	entry.FingerprintEnabled = false
	if err := s.registry.Upsert(ctx, entry); err != nil {
		util.Error("Failed to disable fingerprint in registry", zap.Error(err))
		return failure(errGenericFailure)
	}

	util.Info("Biometrics disabled", zap.String("device_id", deviceID))
	return &Result{Success: true}
}

// ChangeMasterPIN rotates the Master PIN. Requires a valid Super Admin
// PIN, rejects the current PIN and the last two historical ones, bumps
// the version by exactly one and revokes every biometric grant globally.
func (s *AuthService) ChangeMasterPIN(ctx context.Context, newPIN, superAdminPIN string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res := s.checkLockout(ctx); res != nil {
		return res
	}

	cred, res := s.verifySuperAdmin(ctx, superAdminPIN)
	if res != nil {
		return res
	}

	if res := validatePINFormat(newPIN, s.lockCfg.MinPINLength); res != nil {
		return res
	}
	if newPIN == cred.MasterPIN {
		return failure(errPINReused)
	}
	history, err := s.state.PINHistory(ctx)
	if err != nil {
		util.Warn("Failed to read PIN history", zap.Error(err))
	}
	for _, old := range history {
		if newPIN == old {
			return failure(errPINReused)
		}
	}

	newVersion := cred.PINVersion + 1
	if err := s.credentials.UpdateMasterPIN(ctx, newPIN, newVersion); err != nil {
		util.Error("Failed to write new master PIN", zap.Error(err))
		return failure(errGenericFailure)
	}

	if err := s.registry.RevokeAllFingerprints(ctx); err != nil {
		// The version bump alone already invalidates every grant; the flag
		// sweep is retried on the next status check of each device.
		util.Error("Global fingerprint revocation incomplete", zap.Error(err))
	}

	if err := s.state.PushPINHistory(ctx, cred.MasterPIN, s.lockCfg.PINHistorySize); err != nil {
		util.Warn("Failed to record PIN history", zap.Error(err))
	}
	if err := s.state.SetPINVersion(ctx, newVersion); err != nil {
		util.Warn("Failed to update local PIN version", zap.Error(err))
	}
	if err := s.state.ClearCredentialID(ctx); err != nil {
		util.Warn("Failed to clear biometric credential", zap.Error(err))
	}
	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}

	util.Info("Master PIN changed",
		zap.Int("pin_version", newVersion))
	return &Result{Success: true}
}

// SetupSuperAdmin configures or rotates the Super Admin PIN and the alert
// email. First-time setup is gated on the Master PIN; once configured,
// rotation requires the current Super Admin PIN. A wrong gate PIN counts
// against the shared lockout budget like any other PIN guess.
func (s *AuthService) SetupSuperAdmin(ctx context.Context, newPIN, email, currentPIN string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res := s.checkLockout(ctx); res != nil {
		return res
	}
	if res := validatePINFormat(newPIN, s.lockCfg.MinPINLength); res != nil {
		return res
	}

	cred, err := s.credentials.Get(ctx)
	if err != nil {
		util.Error("Super admin setup failed to reach credential store", zap.Error(err))
		return failure(errGenericFailure)
	}

	if cred.HasSuperAdmin() {
		if currentPIN != cred.SuperAdminPIN {
			return s.recordPINFailure(ctx, errInvalidSuperAdmin)
		}
	} else if currentPIN != cred.MasterPIN {
		return s.recordPINFailure(ctx, errInvalidPIN)
	}

	if err := s.credentials.SetSuperAdminPIN(ctx, newPIN); err != nil {
		util.Error("Failed to write super admin PIN", zap.Error(err))
		return failure(errGenericFailure)
	}

	if email != "" {
		// The email only feeds alert delivery; a write failure does not
		// undo the PIN update.
		if err := s.credentials.SetSuperAdminEmail(ctx, email); err != nil {
			util.Warn("Failed to write super admin email", zap.Error(err))
		}
	}

	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}

	util.Info("Super admin configured",
		zap.Bool("rotated", cred.HasSuperAdmin()),
		zap.Bool("email_set", email != ""))
	return &Result{Success: true}
}

// RevokeDeviceFingerprint deletes the target device's registry entry.
// Revoking the current device also clears its local biometric state.
func (s *AuthService) RevokeDeviceFingerprint(ctx context.Context, targetDeviceID, superAdminPIN string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res := s.checkLockout(ctx); res != nil {
		return res
	}

	if _, res := s.verifySuperAdmin(ctx, superAdminPIN); res != nil {
		return res
	}

	if err := s.registry.Delete(ctx, targetDeviceID); err != nil {
		util.Error("Failed to revoke device",
			zap.String("target_device_id", targetDeviceID),
			zap.Error(err))
		return failure(errGenericFailure)
	}

	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}

	currentID, err := s.state.DeviceID(ctx)
	if err == nil && currentID == targetDeviceID {
		if err := s.state.ClearCredentialID(ctx); err != nil {
			util.Warn("Failed to clear biometric credential", zap.Error(err))
		}
	}

	util.Info("Device fingerprint revoked",
		zap.String("target_device_id", targetDeviceID))
	return &Result{Success: true}
}

// ListDevices returns every registered device, most recently active first
func (s *AuthService) ListDevices(ctx context.Context) ([]*model.DeviceRegistryEntry, error) {
	return s.registry.List(ctx)
}

// LockApp transitions to Locked. It always succeeds; the only side
// effects are the local flags.
func (s *AuthService) LockApp(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forceLockLocked(ctx)
	util.Info("App locked")
	return &Result{Success: true}
}

// EnableSecurityBypass suspends locking for the configured window
// (3 days). Gated on the Super Admin PIN like every privileged operation.
func (s *AuthService) EnableSecurityBypass(ctx context.Context, superAdminPIN string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res := s.checkLockout(ctx); res != nil {
		return res
	}

	if _, res := s.verifySuperAdmin(ctx, superAdminPIN); res != nil {
		return res
	}

	until, err := s.bypassTimer.Enable(ctx)
	if err != nil {
		util.Error("Failed to enable security bypass", zap.Error(err))
		return failure(errGenericFailure)
	}

	if err := s.tracker.Reset(ctx); err != nil {
		util.Warn("Failed to reset lockout counter", zap.Error(err))
	}
	if err := s.unlockLocked(ctx); err != nil {
		return failure(errGenericFailure)
	}

	util.Info("Security bypass enabled",
		zap.Time("bypass_until", until))
	return &Result{Success: true}
}

// DisableSecurityBypass clears the bypass window and forces Locked
func (s *AuthService) DisableSecurityBypass(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bypassTimer.Disable(ctx); err != nil {
		util.Error("Failed to disable security bypass", zap.Error(err))
		return failure(errGenericFailure)
	}

	s.forceLockLocked(ctx)
	util.Info("Security bypass disabled")
	return &Result{Success: true}
}

// StartBackgroundTasks launches the periodic status check and the bypass
// expiry watcher. Both stop when ctx is cancelled.
func (s *AuthService) StartBackgroundTasks(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.lockCfg.StatusCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CheckAuthStatus(ctx); err != nil {
					util.Warn("Periodic status check failed", zap.Error(err))
				}
			}
		}
	}()

	go s.bypassTimer.Watch(ctx, s.lockCfg.BypassCheckInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.forceLockLocked(context.Background())
		util.Info("Security bypass expired, app locked")
	})
}

// -------------------- internal helpers (s.mu held) --------------------

func (s *AuthService) forceLockLocked(ctx context.Context) {
	s.locked = true
	s.sessionActive = false
	if err := s.state.SetLocked(ctx, true); err != nil {
		util.Warn("Failed to persist locked flag", zap.Error(err))
	}
}

func (s *AuthService) unlockLocked(ctx context.Context) error {
	if err := s.state.SetLocked(ctx, false); err != nil {
		util.Error("Failed to clear locked flag", zap.Error(err))
		return fmt.Errorf("failed to clear locked flag: %w", err)
	}
	s.locked = false
	s.sessionActive = true
	return nil
}

// checkLockout rejects the attempt before any PIN is evaluated while a
// lockout window is open
func (s *AuthService) checkLockout(ctx context.Context) *Result {
	blocked, remaining, err := s.tracker.Blocked(ctx)
	if err != nil {
		util.Error("Failed to read lockout state", zap.Error(err))
		return failure(errGenericFailure)
	}
	if blocked {
		return &Result{
			Success:           false,
			Error:             errLockedOut,
			LockedOut:         true,
			RetryAfterSeconds: int(remaining.Seconds()) + 1,
		}
	}
	return nil
}

// recordPINFailure counts a wrong PIN against the shared budget and
// reports the resulting lockout, if one was triggered
func (s *AuthService) recordPINFailure(ctx context.Context, msg string) *Result {
	state, err := s.tracker.RecordFailure(ctx)
	if err != nil {
		util.Error("Failed to record PIN failure", zap.Error(err))
		return failure(errGenericFailure)
	}

	result := &Result{
		Success:        false,
		Error:          msg,
		FailedAttempts: state.FailedAttempts,
	}
	if state.LockedOut(s.now()) {
		result.LockedOut = true
		result.Error = errLockedOut
		result.RetryAfterSeconds = int(state.LockoutUntil.Sub(s.now()).Seconds()) + 1
	}
	return result
}

// verifySuperAdmin validates the Super Admin PIN for a privileged
// operation. A mismatch counts against the shared lockout budget.
func (s *AuthService) verifySuperAdmin(ctx context.Context, pin string) (*model.CredentialRecord, *Result) {
	cred, err := s.credentials.Get(ctx)
	if err != nil {
		util.Error("Super admin check failed to reach credential store", zap.Error(err))
		return nil, failure(errGenericFailure)
	}
	if !cred.HasSuperAdmin() {
		return nil, failure(errNoSuperAdmin)
	}
	if pin != cred.SuperAdminPIN {
		return nil, s.recordPINFailure(ctx, errInvalidSuperAdmin)
	}
	return cred, nil
}

// registerDevice upserts this device's registry row at the given PIN
// version. The existing fingerprint flag survives a re-registration only
// while a biometric credential is still present locally and the caller
// allows it. Returns whether the device was already registered.
func (s *AuthService) registerDevice(ctx context.Context, deviceID, deviceName string, pinVersion int, keepFingerprint bool) (bool, error) {
	now := s.now().UTC()

	fingerprintEnabled := false
	alreadyRegistered := false

	existing, err := s.registry.Get(ctx, deviceID)
	switch {
	case err == model.ErrDeviceNotRegistered:
	case err != nil:
		util.Error("Failed to read device registry entry", zap.Error(err))
		return false, fmt.Errorf("failed to read device registry entry: %w", err)
	default:
		alreadyRegistered = true
		if keepFingerprint && existing.FingerprintEnabled {
			credentialID, credErr := s.state.CredentialID(ctx)
			fingerprintEnabled = credErr == nil && credentialID != ""
		}
	}

	entry := &model.DeviceRegistryEntry{
		DeviceID:           deviceID,
		DeviceName:         deviceName,
		FingerprintEnabled: fingerprintEnabled,
		VerifiedPINVersion: pinVersion,
		LastPINVerifiedAt:  now,
		LastActiveAt:       now,
	}
	if err := s.registry.Upsert(ctx, entry); err != nil {
		util.Error("Failed to upsert device registry entry", zap.Error(err))
		return alreadyRegistered, fmt.Errorf("failed to upsert device registry entry: %w", err)
	}

	if err := s.state.SetPINVersion(ctx, pinVersion); err != nil {
		util.Warn("Failed to update local PIN version", zap.Error(err))
	}

	return alreadyRegistered, nil
}

// recordLogin ships the audit event. Failures are logged downstream and
// never block the unlock; an unregistered device additionally raises a
// security alert.
func (s *AuthService) recordLogin(ctx context.Context, deviceID, deviceName, method string, authorized bool) {
	activity := &model.LoginActivity{
		EventID:            uuid.New().String(),
		DeviceID:           deviceID,
		DeviceName:         deviceName,
		LoginMethod:        method,
		IsAuthorizedDevice: authorized,
		OccurredAt:         s.now().UTC(),
	}
	if err := s.recorder.RecordLogin(ctx, activity); err != nil {
		util.Warn("Login activity not recorded",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}

	if !authorized {
		alert := &model.SecurityAlert{
			AlertID:    uuid.New().String(),
			DeviceID:   deviceID,
			DeviceName: deviceName,
			Reason:     "login from unregistered device",
			CreatedAt:  s.now().UTC(),
		}
		if err := s.recorder.RecordAlert(ctx, alert); err != nil {
			util.Warn("Security alert not recorded",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}
}

// validatePINFormat enforces the minimum-length, digits-only PIN shape.
// Format errors do not count against the lockout budget.
func validatePINFormat(pin string, minLength int) *Result {
	if len(pin) < minLength {
		return failure(errPINTooShort)
	}
	if !util.IsDigits(pin) {
		return failure(errPINNotDigits)
	}
	return nil
}
