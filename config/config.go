package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/echosphere/backend/pkg/database"
	"github.com/echosphere/backend/pkg/redis"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Egress   EgressConfig
	Playback PlaybackConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `validate:"required,numeric"`
	ReadTimeout        int    `validate:"gte=0"`
	WriteTimeout       int    `validate:"gte=0"`
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/echosphere?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	// MaxConns caps the pgx pool; 0 keeps the pgx default.
	MaxConns          int `validate:"gte=0"`
	ConnectTimeoutSec int `validate:"gte=0"`
}

// RedisConfig holds Redis connection settings. Empty Addr disables the job queue and live feed.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

// JWTConfig holds API bearer token validation settings.
type JWTConfig struct {
	Secret      string `validate:"required"`
	ExpireHours int    `validate:"gt=0"`
}

// AWSConfig holds S3 (or MinIO) credentials and the recordings bucket.
type AWSConfig struct {
	Region               string `validate:"required"`
	Endpoint             string // e.g. http://localhost:9000 for MinIO; empty for AWS
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string `validate:"required"`
	PresignExpireMinutes int    `validate:"gt=0"`
}

// EgressConfig holds the egress gateway connection and output settings.
type EgressConfig struct {
	URL             string `validate:"omitempty,url"`
	APIKey          string
	APISecret       string
	WebhookSecret   string // verifies inbound webhooks; empty skips verification
	SegmentDuration int    `validate:"gt=0"`
	Width           int    `validate:"gt=0"`
	Height          int    `validate:"gt=0"`
}

// PlaybackConfig holds settings for the replay client.
type PlaybackConfig struct {
	APIURL              string
	Token               string
	TickMs              int `validate:"gte=16"`
	MaxRecoveryAttempts int `validate:"gte=0"`
	RecoveryBackoffMs   int `validate:"gte=0"`
}

// LogConfig holds logger settings. Empty File logs to stderr only.
type LogConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	File       string
	MaxSizeMB  int
	MaxBackups int
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

// PoolOptions returns the pgx pool tuning for these settings.
func (c DatabaseConfig) PoolOptions() database.PoolOptions {
	return database.PoolOptions{
		MaxConns:       int32(c.MaxConns),
		ConnectTimeout: time.Duration(c.ConnectTimeoutSec) * time.Second,
	}
}

// RedisOptions returns the connection options for pkg/redis.
func (c RedisConfig) RedisOptions() redis.Options {
	return redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
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
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "echosphere"),
			Password: getEnv("DB_PASSWORD", "echosphere_dev"),
			DBName:   getEnv("DB_NAME", "echosphere"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxConns:          getEnvInt("DB_MAX_CONNS", 10),
			ConnectTimeoutSec: getEnvInt("DB_CONNECT_TIMEOUT_SEC", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			Endpoint:             getEnv("S3_ENDPOINT_URL", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("S3_BUCKET_RECORDINGS", "echosphere-recordings"),
			PresignExpireMinutes: getEnvInt("PRESIGNED_URL_EXPIRE_MINUTES", 60),
		},
		Egress: EgressConfig{
			URL:             getEnv("EGRESS_URL", ""),
			APIKey:          getEnv("EGRESS_API_KEY", "devkey"),
			APISecret:       getEnv("EGRESS_API_SECRET", "secret"),
			WebhookSecret:   getEnv("EGRESS_WEBHOOK_SECRET", ""),
			SegmentDuration: getEnvInt("EGRESS_SEGMENT_DURATION", 4),
			Width:           getEnvInt("EGRESS_OUTPUT_WIDTH", 1280),
			Height:          getEnvInt("EGRESS_OUTPUT_HEIGHT", 720),
		},
		Playback: PlaybackConfig{
			APIURL:              getEnv("PLAYBACK_API_URL", "http://localhost:8080"),
			Token:               getEnv("PLAYBACK_TOKEN", ""),
			TickMs:              getEnvInt("PLAYBACK_TICK_MS", 250),
			MaxRecoveryAttempts: getEnvInt("PLAYBACK_MAX_RECOVERY_ATTEMPTS", 3),
			RecoveryBackoffMs:   getEnvInt("PLAYBACK_RECOVERY_BACKOFF_MS", 1000),
		},
		Log: LogConfig{
			Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
