package device

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"applock-service/internal/util"
)

// Store is the slice of local persistence the identity needs
type Store interface {
	DeviceID(ctx context.Context) (string, error)
	SetDeviceID(ctx context.Context, id, name string) error
	DeviceName(ctx context.Context) (string, error)
}

// Identity produces and persists the stable per-installation identifier
type Identity struct {
	state Store
}

func NewIdentity(state Store) *Identity {
	return &Identity{state: state}
}

// GetOrCreate returns the persisted device id, generating and persisting a
// new one on first call. Idempotent: later calls return the same id.
func (i *Identity) GetOrCreate(ctx context.Context, platformHint string) (id, name string, err error) {
	existing, err := i.state.DeviceID(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to load device id: %w", err)
	}
	if existing != "" {
		name, err = i.state.DeviceName(ctx)
		if err != nil {
			return "", "", fmt.Errorf("failed to load device name: %w", err)
		}
		return existing, name, nil
	}

	id = newDeviceID()
	name = DeriveDeviceName(platformHint)

	if err := i.state.SetDeviceID(ctx, id, name); err != nil {
		return "", "", fmt.Errorf("failed to persist device id: %w", err)
	}

	util.Info("Device identity created",
		zap.String("device_id", id),
		zap.String("device_name", name))

	return id, name, nil
}

// newDeviceID returns a cryptographically random UUID, falling back to a
// pseudo-random UUID-shaped value if the entropy source is unavailable.
func newDeviceID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var b [16]byte
	rng.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// DeriveDeviceName maps a platform hint (user agent or GOOS) to the coarse
// labels shown on the device management screen. An empty hint falls back to
// the host OS.
func DeriveDeviceName(platformHint string) string {
	hint := strings.ToLower(strings.TrimSpace(platformHint))
	if hint == "" {
		hint = runtime.GOOS
	}

	switch {
	case strings.Contains(hint, "iphone"), strings.Contains(hint, "ipad"), strings.Contains(hint, "ios"):
		return "iPhone"
	case strings.Contains(hint, "android"):
		return "Android Device"
	case strings.Contains(hint, "windows"):
		return "Windows PC"
	case strings.Contains(hint, "mac"), strings.Contains(hint, "darwin"):
		return "Mac"
	case strings.Contains(hint, "linux"):
		return "Linux PC"
	default:
		return "Unknown Device"
	}
}
