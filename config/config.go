package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Recording RecordingConfig
	Jobs      JobsConfig
	AWS       AWSConfig
	Webhook   WebhookConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PipelineConfig holds the media pipeline API settings.
type PipelineConfig struct {
	BaseURL        string
	Secret         string // shared secret for service tokens
	RequestTimeout time.Duration
}

// RecordingConfig tunes the recording coordinator.
type RecordingConfig struct {
	LockTTL           time.Duration
	StartTimeout      time.Duration
	AcquireAttempts   int
	AcquireRetryDelay time.Duration
}

// JobsConfig tunes the recurring jobs.
type JobsConfig struct {
	// GCSpec schedules the orphaned-lock reclamation; GCDedupTTL must stay
	// just under its interval so exactly one instance runs each tick.
	GCSpec     string
	GCDedupTTL time.Duration
	// TimeoutSweepInterval bounds how stale a crashed starter's STARTING
	// record can get before another instance fails it.
	TimeoutSweepInterval time.Duration
}

// AWSConfig holds AWS credentials and the artifact bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArtifactsBucket      string
	PresignExpireMinutes int
}

// WebhookConfig holds webhook bootstrap settings.
type WebhookConfig struct {
	// InitialAPIKey is provisioned once on first start; the oldest key
	// signs every outbound webhook.
	InitialAPIKey string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "meet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Pipeline: PipelineConfig{
			BaseURL:        getEnv("PIPELINE_BASE_URL", "http://localhost:7880"),
			Secret:         getEnv("PIPELINE_SECRET", ""),
			RequestTimeout: getEnvDuration("PIPELINE_REQUEST_TIMEOUT", 10*time.Second),
		},
		Recording: RecordingConfig{
			LockTTL:           getEnvDuration("MEET_RECORDING_LOCK_TTL", 2*time.Hour),
			StartTimeout:      getEnvDuration("MEET_RECORDING_START_TIMEOUT", time.Minute),
			AcquireAttempts:   getEnvInt("MEET_LOCK_ACQUIRE_ATTEMPTS", 1),
			AcquireRetryDelay: getEnvDuration("MEET_LOCK_ACQUIRE_RETRY_DELAY", 50*time.Millisecond),
		},
		Jobs: JobsConfig{
			GCSpec:               getEnv("MEET_GC_CRON", "0 * * * *"),
			GCDedupTTL:           getEnvDuration("MEET_GC_DEDUP_TTL", 55*time.Minute),
			TimeoutSweepInterval: getEnvDuration("MEET_TIMEOUT_SWEEP_INTERVAL", 30*time.Second),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArtifactsBucket:      getEnv("AWS_S3_ARTIFACTS_BUCKET", "meet-recordings-bucket"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Webhook: WebhookConfig{
			InitialAPIKey: getEnv("MEET_INITIAL_API_KEY", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
