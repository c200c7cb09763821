package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"applock-service/internal/util"
)

// Config holds the full application configuration loaded from environment
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Lock          LockConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers       []string
	ActivityTopic string
	AlertTopic    string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AlertIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

type BucketingConfig struct {
	DeviceBuckets int
	EventBuckets  int
}

// LockConfig carries the app-lock policy knobs. Defaults match the
// shipped product behaviour; they are configurable for testing only.
type LockConfig struct {
	MaxPINAttempts       int
	FirstLockout         time.Duration
	RepeatLockout        time.Duration
	BypassDuration       time.Duration
	StatusCheckInterval  time.Duration
	BypassCheckInterval  time.Duration
	CeremonyTimeout      time.Duration
	PINHistorySize       int
	MinPINLength         int
}

var loaded *Config

// LoadConfig reads configuration from the environment (and .env if present)
func LoadConfig() *Config {
	// .env is optional; ignore the error if the file is absent
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         util.GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			AutoCertDir:  util.GetEnv("SERVER_AUTO_CERT_DIR", "/var/lib/applock/certs"),
			Domain:       util.GetEnv("SERVER_DOMAIN", "localhost"),
			Email:        util.GetEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"127.0.0.1"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "applock"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ActivityTopic: util.GetEnv("KAFKA_ACTIVITY_TOPIC", "login-activity"),
			AlertTopic:    util.GetEnv("KAFKA_ALERT_TOPIC", "security-alerts"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			AlertIndex: util.GetEnv("ELASTICSEARCH_ALERT_INDEX", "security-alerts"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "applock"),
		},
		KMS: KMSConfig{
			Enabled: util.GetEnvBool("KMS_ENABLED", false),
			Region:  util.GetEnv("KMS_REGION", "ap-south-1"),
			KeyID:   util.GetEnv("KMS_KEY_ID", ""),
		},
		Bucketing: BucketingConfig{
			DeviceBuckets: util.GetEnvInt("BUCKETING_DEVICE_BUCKETS", 64),
			EventBuckets:  util.GetEnvInt("BUCKETING_EVENT_BUCKETS", 256),
		},
		Lock: LockConfig{
			MaxPINAttempts:      util.GetEnvInt("LOCK_MAX_PIN_ATTEMPTS", 3),
			FirstLockout:        util.GetEnvDuration("LOCK_FIRST_LOCKOUT", 5*time.Minute),
			RepeatLockout:       util.GetEnvDuration("LOCK_REPEAT_LOCKOUT", 10*time.Minute),
			BypassDuration:      util.GetEnvDuration("LOCK_BYPASS_DURATION", 72*time.Hour),
			StatusCheckInterval: util.GetEnvDuration("LOCK_STATUS_CHECK_INTERVAL", 30*time.Second),
			BypassCheckInterval: util.GetEnvDuration("LOCK_BYPASS_CHECK_INTERVAL", time.Minute),
			CeremonyTimeout:     util.GetEnvDuration("LOCK_CEREMONY_TIMEOUT", 60*time.Second),
			PINHistorySize:      util.GetEnvInt("LOCK_PIN_HISTORY_SIZE", 2),
			MinPINLength:        util.GetEnvInt("LOCK_MIN_PIN_LENGTH", 4),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the last loaded configuration, loading it on first use
func Get() *Config {
	if loaded == nil {
		return LoadConfig()
	}
	return loaded
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
