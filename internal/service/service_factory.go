package service

import (
	"context"

	"go.uber.org/zap"

	"applock-service/internal/biometric"
	"applock-service/internal/bypass"
	"applock-service/internal/config"
	"applock-service/internal/device"
	"applock-service/internal/lockout"
	"applock-service/internal/model"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	credentials   model.CredentialRepository
	registry      model.DeviceRegistry
	state         model.LocalState
	recorder      model.ActivityRecorder
	authenticator biometric.Authenticator
	lockCfg       config.LockConfig
	logger        *zap.Logger

	authService *AuthService
	cancelTasks context.CancelFunc
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	credentials model.CredentialRepository,
	registry model.DeviceRegistry,
	state model.LocalState,
	recorder model.ActivityRecorder,
	authenticator biometric.Authenticator,
	lockCfg config.LockConfig,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		credentials:   credentials,
		registry:      registry,
		state:         state,
		recorder:      recorder,
		authenticator: authenticator,
		lockCfg:       lockCfg,
		logger:        logger,
	}
}

// AuthService returns the auth state machine instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.credentials,
			f.registry,
			f.state,
			lockout.NewTracker(f.state, f.lockCfg),
			bypass.NewTimer(f.state, f.lockCfg.BypassDuration),
			device.NewIdentity(f.state),
			f.authenticator,
			f.recorder,
			f.lockCfg,
		)
	}
	return f.authService
}

// StartBackgroundTasks launches the status and bypass pollers; Cleanup
// stops them
func (f *ServiceFactory) StartBackgroundTasks() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancelTasks = cancel
	f.AuthService().StartBackgroundTasks(ctx)
}

// Cleanup cleans up all services
func (f *ServiceFactory) Cleanup() {
	if f.cancelTasks != nil {
		f.cancelTasks()
	}
}
