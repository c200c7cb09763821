package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"applock-service/internal/encryption"
	"applock-service/internal/model"
	"applock-service/internal/util"
)

// CredentialRepository reads and writes the single global credential row.
// The Super Admin email is envelope-encrypted at rest; the PINs are stored
// as plaintext values and compared exactly.
type CredentialRepository struct {
	client        *ScyllaClient
	encryptionMgr *encryption.EncryptionManager
}

func NewCredentialRepository(client *ScyllaClient, encryptionMgr *encryption.EncryptionManager, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		client:        client,
		encryptionMgr: encryptionMgr,
	}
}

func (r *CredentialRepository) Get(ctx context.Context) (*model.CredentialRecord, error) {
	record := &model.CredentialRecord{}
	var encryptedEmail, emailKeyID string

	query := r.client.Prepared.GetCredentials.WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&record.MasterPIN, &record.SuperAdminPIN,
		&encryptedEmail, &emailKeyID,
		&record.PINVersion, &record.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrCredentialsNotFound
		}
		util.Error("Failed to get credential record", zap.Error(err))
		return nil, fmt.Errorf("failed to get credential record: %w", err)
	}

	_ = emailKeyID // key id column is kept for operational visibility

	if encryptedEmail != "" {
		email, err := r.encryptionMgr.DecryptField(ctx, encryptedEmail)
		if err != nil {
			// Email is display-only; a decryption failure must not block auth.
			util.Warn("Failed to decrypt super admin email", zap.Error(err))
		} else {
			record.SuperAdminEmail = email
		}
	}

	return record, nil
}

// UpdateMasterPIN writes the new PIN and its version together so a reader
// never observes a new PIN with a stale version.
func (r *CredentialRepository) UpdateMasterPIN(ctx context.Context, newPIN string, newVersion int) error {
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateMasterPIN.WithContext(ctx).Bind(newPIN, newVersion, now)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update master PIN",
			zap.Int("pin_version", newVersion),
			zap.Error(err))
		return fmt.Errorf("failed to update master PIN: %w", err)
	}

	util.Info("Master PIN updated",
		zap.Int("pin_version", newVersion))

	return nil
}

func (r *CredentialRepository) SetSuperAdminPIN(ctx context.Context, pin string) error {
	now := time.Now().UTC()

	query := r.client.Prepared.SetSuperAdminPIN.WithContext(ctx).Bind(pin, now)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to set super admin PIN", zap.Error(err))
		return fmt.Errorf("failed to set super admin PIN: %w", err)
	}

	util.Info("Super admin PIN updated")
	return nil
}

func (r *CredentialRepository) SetSuperAdminEmail(ctx context.Context, email string) error {
	now := time.Now().UTC()

	encrypted, err := r.encryptionMgr.EncryptField(ctx, email, "super_admin_email")
	if err != nil {
		return fmt.Errorf("failed to encrypt super admin email: %w", err)
	}

	payload, err := encrypted.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode super admin email envelope: %w", err)
	}

	query := r.client.Prepared.SetSuperAdminEmail.WithContext(ctx).
		Bind(payload, encrypted.KeyID, now)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to set super admin email", zap.Error(err))
		return fmt.Errorf("failed to set super admin email: %w", err)
	}

	util.Info("Super admin email updated")
	return nil
}
