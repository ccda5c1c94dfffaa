// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// データベースドライバ。
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// エスクロー封印方式。
const (
	SealerKMS = "kms"
	SealerAge = "age"
)

// 保管庫の格納先。
const (
	VaultBackendFile = "file"
	VaultBackendS3   = "s3"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port           string
	DatabaseDriver string
	DatabaseURL    string
	LogLevel       string

	Sealer             string
	KMSKeyName         string
	GoogleCloudProject string
	AgeIdentityFile    string

	VaultBackend string
	VaultDir     string
	RestoreDir   string
	S3Bucket     string
	S3Prefix     string
	S3Region     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string

	SMTPAddr       string
	SMTPFrom       string
	SMTPUser       string
	SMTPPassword   string
	WebhookTimeout time.Duration

	ComplianceInterval time.Duration

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", DriverMySQL),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),

		Sealer:             getEnv("SEALER", SealerKMS),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		AgeIdentityFile:    os.Getenv("AGE_IDENTITY_FILE"),

		VaultBackend: getEnv("VAULT_BACKEND", VaultBackendFile),
		VaultDir:     getEnv("VAULT_DIR", "./vault"),
		RestoreDir:   getEnv("RESTORE_DIR", "./restore"),
		S3Bucket:     os.Getenv("S3_BUCKET"),
		S3Prefix:     os.Getenv("S3_PREFIX"),
		S3Region:     getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:   os.Getenv("S3_ENDPOINT"),
		S3AccessKey:  os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:  os.Getenv("S3_SECRET_KEY"),

		SMTPAddr:     os.Getenv("NOTIFY_SMTP_ADDR"),
		SMTPFrom:     getEnv("NOTIFY_SMTP_FROM", "breakglass@localhost"),
		SMTPUser:     os.Getenv("NOTIFY_SMTP_USER"),
		SMTPPassword: os.Getenv("NOTIFY_SMTP_PASSWORD"),

		OtelEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "breakglass-service"),
	}

	var err error
	if cfg.WebhookTimeout, err = getDuration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ComplianceInterval, err = getDuration("COMPLIANCE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.OtelEnabled, err = getBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OtelSamplingRate, err = getFloat("OTEL_SAMPLING_RATE", 1.0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の組み合わせを検証する。
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, c.DatabaseDriver)
	}
	switch c.Sealer {
	case SealerKMS:
		if c.KMSKeyName == "" {
			return fmt.Errorf("KMS_KEY_NAME is required when SEALER=%s", SealerKMS)
		}
	case SealerAge:
		if c.AgeIdentityFile == "" {
			return fmt.Errorf("AGE_IDENTITY_FILE is required when SEALER=%s", SealerAge)
		}
	default:
		return fmt.Errorf("SEALER must be %q or %q, got %q", SealerKMS, SealerAge, c.Sealer)
	}
	switch c.VaultBackend {
	case VaultBackendFile:
	case VaultBackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when VAULT_BACKEND=%s", VaultBackendS3)
		}
	default:
		return fmt.Errorf("VAULT_BACKEND must be %q or %q, got %q", VaultBackendFile, VaultBackendS3, c.VaultBackend)
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be between 0 and 1, got %v", c.OtelSamplingRate)
	}
	if c.ComplianceInterval <= 0 {
		return fmt.Errorf("COMPLIANCE_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
