package biometric

import (
	"context"

	"github.com/google/uuid"
)

// Outcome is the result of a platform credential ceremony. Cancellation is
// a first-class outcome, never an error: a user backing out of a
// fingerprint prompt must not count against the lockout budget.
type Outcome int

const (
	OutcomeGranted Outcome = iota
	OutcomeCancelled
	OutcomeFailed
	OutcomeUnsupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// CreateParams describes the credential to enroll
type CreateParams struct {
	DeviceID   string
	DeviceName string
}

// Authenticator wraps the platform's public-key credential ceremony.
// Implementations block until the user completes or dismisses the prompt,
// honoring ctx for the ceremony timeout.
type Authenticator interface {
	// Create runs the enrollment ceremony and returns the new credential id
	Create(ctx context.Context, params CreateParams) (credentialID string, outcome Outcome, err error)
	// Assert runs the assertion ceremony against a stored credential id
	Assert(ctx context.Context, credentialID string, challenge []byte) (Outcome, error)
}

// NewChallenge returns a fresh random challenge for an assertion ceremony
func NewChallenge() []byte {
	id := uuid.New()
	return id[:]
}

// UnsupportedAuthenticator is the default implementation for platforms
// without a biometric sensor. It reports every ceremony as unsupported so
// the UI hides the biometric affordance entirely.
type UnsupportedAuthenticator struct{}

func NewUnsupportedAuthenticator() *UnsupportedAuthenticator {
	return &UnsupportedAuthenticator{}
}

func (a *UnsupportedAuthenticator) Create(ctx context.Context, params CreateParams) (string, Outcome, error) {
	return "", OutcomeUnsupported, nil
}

func (a *UnsupportedAuthenticator) Assert(ctx context.Context, credentialID string, challenge []byte) (Outcome, error) {
	return OutcomeUnsupported, nil
}
