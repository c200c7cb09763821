package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"applock-service/internal/service"
	"applock-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuthHandler exposes the lock-screen operations over HTTP
type AuthHandler struct {
	authService *service.AuthService
	healthCheck func(ctx context.Context) error
	logger      *zap.Logger
}

// NewAuthHandler creates a new app-lock handler
func NewAuthHandler(authService *service.AuthService, healthCheck func(ctx context.Context) error, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		healthCheck: healthCheck,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type pinRequest struct {
	PIN string `json:"pin"`
}

type superAdminRequest struct {
	SuperAdminPIN string `json:"super_admin_pin"`
}

type changePINRequest struct {
	NewPIN        string `json:"new_pin"`
	ConfirmPIN    string `json:"confirm_pin"`
	SuperAdminPIN string `json:"super_admin_pin"`
}

type superAdminSetupRequest struct {
	NewPIN     string `json:"new_pin"`
	Email      string `json:"email"`
	CurrentPIN string `json:"current_pin"`
}

// RegisterRoutes registers all app-lock routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/applock", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/health", h.HealthCheck)

		r.Post("/unlock/pin", h.UnlockPIN)
		r.Post("/unlock/super-admin", h.UnlockSuperAdmin)
		r.Post("/unlock/biometric", h.UnlockBiometric)
		r.Post("/lock", h.Lock)

		r.Post("/biometrics/register", h.RegisterBiometrics)
		r.Post("/biometrics/disable", h.DisableBiometrics)

		r.Post("/pin/change", h.ChangePIN)
		r.Post("/super-admin/setup", h.SetupSuperAdmin)

		r.Get("/devices", h.ListDevices)
		r.Delete("/devices/{deviceID}", h.RevokeDevice)

		r.Post("/bypass/enable", h.EnableBypass)
		r.Post("/bypass/disable", h.DisableBypass)
	})
}

// Status reports the full lock-screen state after reconciling against the
// remote stores
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	status, err := h.authService.CheckAuthStatus(ctx)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to check auth status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(status, "Status retrieved"))
	h.logger.Debug("Status checked via HTTP",
		util.Bool("is_locked", status.IsLocked),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Status"),
	)
}

// UnlockPIN handles a Master PIN unlock attempt
func (h *AuthHandler) UnlockPIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result := h.authService.AuthenticateMasterPIN(ctx, req.PIN)
	h.respondWithResult(w, result)

	h.logger.Info("Master PIN unlock attempted via HTTP",
		util.Bool("success", result.Success),
		util.Bool("locked_out", result.LockedOut),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UnlockPIN"),
	)
}

// UnlockSuperAdmin handles the emergency Super Admin unlock path
func (h *AuthHandler) UnlockSuperAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result := h.authService.AuthenticateSuperAdmin(ctx, req.PIN)
	h.respondWithResult(w, result)

	h.logger.Info("Super admin unlock attempted via HTTP",
		util.Bool("success", result.Success),
		util.Bool("locked_out", result.LockedOut),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UnlockSuperAdmin"),
	)
}

// UnlockBiometric runs the biometric assertion ceremony
func (h *AuthHandler) UnlockBiometric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	result := h.authService.AuthenticateBiometric(ctx)
	h.respondWithResult(w, result)

	h.logger.Info("Biometric unlock attempted via HTTP",
		util.Bool("success", result.Success),
		util.Bool("cancelled", result.Cancelled),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "UnlockBiometric"),
	)
}

// Lock transitions the app to Locked
func (h *AuthHandler) Lock(w http.ResponseWriter, r *http.Request) {
	result := h.authService.LockApp(r.Context())
	h.respondWithResult(w, result)
}

// RegisterBiometrics runs the credential-creation ceremony and enables
// biometrics for this device
func (h *AuthHandler) RegisterBiometrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	result := h.authService.RegisterBiometrics(ctx)
	h.respondWithResult(w, result)

	h.logger.Info("Biometric registration attempted via HTTP",
		util.Bool("success", result.Success),
		util.Bool("cancelled", result.Cancelled),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RegisterBiometrics"),
	)
}

// DisableBiometrics drops this device's biometric grant
func (h *AuthHandler) DisableBiometrics(w http.ResponseWriter, r *http.Request) {
	result := h.authService.DisableBiometrics(r.Context())
	h.respondWithResult(w, result)
}

// ChangePIN rotates the Master PIN (Super Admin gated)
func (h *AuthHandler) ChangePIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req changePINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.ConfirmPIN != "" && req.ConfirmPIN != req.NewPIN {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("pin confirmation does not match"), "PIN confirmation does not match")
		return
	}

	result := h.authService.ChangeMasterPIN(ctx, req.NewPIN, req.SuperAdminPIN)
	h.respondWithResult(w, result)

	h.logger.Info("Master PIN change attempted via HTTP",
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ChangePIN"),
	)
}

// SetupSuperAdmin configures or rotates the Super Admin PIN and alert email
func (h *AuthHandler) SetupSuperAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req superAdminSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result := h.authService.SetupSuperAdmin(ctx, req.NewPIN, util.SanitizeInput(req.Email), req.CurrentPIN)
	h.respondWithResult(w, result)

	h.logger.Info("Super admin setup attempted via HTTP",
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "SetupSuperAdmin"),
	)
}

// ListDevices returns every registered device, most recently active first
func (h *AuthHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	devices, err := h.authService.ListDevices(ctx)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to list devices")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(devices, "Devices retrieved"))
	h.logger.Debug("Devices listed via HTTP",
		util.Int("count", len(devices)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ListDevices"),
	)
}

// RevokeDevice deletes a device's registry entry (Super Admin gated)
func (h *AuthHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	deviceID := util.SanitizeInput(chi.URLParam(r, "deviceID"))
	if deviceID == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("device id is required"), "Device ID is required")
		return
	}

	var req superAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result := h.authService.RevokeDeviceFingerprint(ctx, deviceID, req.SuperAdminPIN)
	h.respondWithResult(w, result)

	h.logger.Info("Device revocation attempted via HTTP",
		util.String("target_device_id", deviceID),
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RevokeDevice"),
	)
}

// EnableBypass enables the time-boxed security bypass (Super Admin gated)
func (h *AuthHandler) EnableBypass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req superAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result := h.authService.EnableSecurityBypass(ctx, req.SuperAdminPIN)
	h.respondWithResult(w, result)

	h.logger.Info("Security bypass enable attempted via HTTP",
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "EnableBypass"),
	)
}

// DisableBypass clears the bypass window and locks the app
func (h *AuthHandler) DisableBypass(w http.ResponseWriter, r *http.Request) {
	result := h.authService.DisableSecurityBypass(r.Context())
	h.respondWithResult(w, result)
}

// HealthCheck reports backend connectivity
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.healthCheck(r.Context()); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, err, "Service unhealthy")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Service is healthy"))
}

// Helper Methods

// respondWithResult maps a state-machine result onto an HTTP status:
// 200 on success or a cancelled ceremony, 423 while locked out, 401 for
// everything the lock screen rejected.
func (h *AuthHandler) respondWithResult(w http.ResponseWriter, result *service.Result) {
	statusCode := http.StatusOK
	switch {
	case result.Success, result.Cancelled:
	case result.LockedOut:
		statusCode = http.StatusLocked
	default:
		statusCode = http.StatusUnauthorized
	}
	h.respondWithJSON(w, statusCode, Response{
		Success: result.Success,
		Data:    result,
		Error:   result.Error,
	})
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
