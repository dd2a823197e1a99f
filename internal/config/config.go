package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Host string
	Env  string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBPath     string

	// Remote storage configuration. The service proxies all file content
	// through a single shared object-storage account.
	RemoteBackend  string // "s3", "memory"
	S3Endpoint     string // Custom endpoint for S3-compatible services
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool // Required for MinIO and most S3-compatible services

	MaxUploadSize int64

	SessionSecret   string
	SessionDuration time.Duration
	BcryptCost      int
	CSRFEnabled     bool

	EnableRegistration bool
	DefaultPlanName    string

	// API key configuration
	APIKeyTrialDuration   time.Duration // How long trial keys stay valid
	APIKeyPlaintextTTL    time.Duration // How long issued secrets stay revealable
	AuthRateLimitPerMin   float64       // Requests per minute on auth endpoints
	DefaultAPICallsPerHr  int           // Fallback when a plan carries no ceiling

	// Reconciler configuration
	ReconcileInterval time.Duration // Sweep cadence for pending storage ops
	ReconcileMinAge   time.Duration // Pending ops younger than this are skipped
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Host:                 getEnv("HOST", "0.0.0.0"),
		Env:                  getEnv("ENV", "development"),
		DBType:               getEnv("DB_TYPE", "sqlite"),
		DBHost:               getEnv("DB_HOST", "localhost"),
		DBPort:               getEnv("DB_PORT", "5432"),
		DBName:               getEnv("DB_NAME", "tatucloudfile"),
		DBUser:               getEnv("DB_USER", "tatucloudfile"),
		DBPassword:           getEnv("DB_PASSWORD", ""),
		DBPath:               getEnv("DB_PATH", "./data/tatucloudfile.db"),
		RemoteBackend:        getEnv("REMOTE_BACKEND", "s3"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             getEnv("S3_REGION", "us-east-1"),
		S3Bucket:             getEnv("S3_BUCKET", ""),
		S3AccessKey:          getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:          getEnv("S3_SECRET_KEY", ""),
		S3UsePathStyle:       getEnvBool("S3_USE_PATH_STYLE", false),
		MaxUploadSize:        getEnvSize("MAX_UPLOAD_SIZE", "500M"),
		SessionSecret:        getEnv("SESSION_SECRET", "change_me_in_production"),
		SessionDuration:      getEnvDuration("SESSION_DURATION", "168h"),
		BcryptCost:           getEnvInt("BCRYPT_COST", 10),
		CSRFEnabled:          getEnvBool("CSRF_ENABLED", true),
		EnableRegistration:   getEnvBool("ENABLE_REGISTRATION", true),
		DefaultPlanName:      getEnv("DEFAULT_PLAN", "Free"),
		APIKeyTrialDuration:  getEnvDuration("API_KEY_TRIAL_DURATION", "336h"),
		APIKeyPlaintextTTL:   getEnvDuration("API_KEY_PLAINTEXT_TTL", "24h"),
		AuthRateLimitPerMin:  getEnvFloat("AUTH_RATE_LIMIT_PER_MIN", 10),
		DefaultAPICallsPerHr: getEnvInt("DEFAULT_API_CALLS_PER_HOUR", 1000),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", "10m"),
		ReconcileMinAge:      getEnvDuration("RECONCILE_MIN_AGE", "30m"),
	}

	if cfg.RemoteBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for the s3 remote backend")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

// getEnvSize parses a human-readable size string such as "500M" or "10G"
// into a byte count. Bare numbers are treated as bytes.
func getEnvSize(key, defaultValue string) int64 {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	size, err := parseSize(value)
	if err != nil {
		size, _ = parseSize(defaultValue)
	}
	return size
}

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1024
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case 'G':
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case 'T':
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * multiplier, nil
}
