package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"applock-service/internal/config"
	"applock-service/internal/util"
)

// PreparedStatements holds the statements used by the repositories
type PreparedStatements struct {
	GetCredentials     *gocql.Query
	UpdateMasterPIN    *gocql.Query
	SetSuperAdminPIN   *gocql.Query
	SetSuperAdminEmail *gocql.Query

	UpsertDevice    *gocql.Query
	GetDevice       *gocql.Query
	DeleteDevice    *gocql.Query
	TouchDevice     *gocql.Query
	RevokeDevice    *gocql.Query
	ListDeviceIDs   *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/root/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	// The credential row is global: there is exactly one, keyed id=0.
	prepared.GetCredentials = s.Session.Query(`
        SELECT master_pin, super_admin_pin, super_admin_email, super_admin_email_key_id, pin_version, updated_at
        FROM credentials WHERE id = 0`)

	prepared.UpdateMasterPIN = s.Session.Query(`
        UPDATE credentials SET master_pin = ?, pin_version = ?, updated_at = ?
        WHERE id = 0`)

	prepared.SetSuperAdminPIN = s.Session.Query(`
        UPDATE credentials SET super_admin_pin = ?, updated_at = ?
        WHERE id = 0`)

	prepared.SetSuperAdminEmail = s.Session.Query(`
        UPDATE credentials SET super_admin_email = ?, super_admin_email_key_id = ?, updated_at = ?
        WHERE id = 0`)

	prepared.UpsertDevice = s.Session.Query(`
        INSERT INTO devices (
            device_id, device_name, fingerprint_enabled, verified_pin_version,
            last_pin_verified_at, last_active_at
        ) VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetDevice = s.Session.Query(`
        SELECT device_id, device_name, fingerprint_enabled, verified_pin_version,
            last_pin_verified_at, last_active_at
        FROM devices WHERE device_id = ?`)

	prepared.DeleteDevice = s.Session.Query(`
        DELETE FROM devices WHERE device_id = ?`)

	prepared.TouchDevice = s.Session.Query(`
        UPDATE devices SET last_active_at = ? WHERE device_id = ?`)

	prepared.RevokeDevice = s.Session.Query(`
        UPDATE devices SET fingerprint_enabled = false, verified_pin_version = 0
        WHERE device_id = ?`)

	prepared.ListDeviceIDs = s.Session.Query(`
        SELECT device_id FROM devices`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 && err != gocql.ErrNotFound {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
