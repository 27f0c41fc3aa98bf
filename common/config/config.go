package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all pipeline configuration
type Config struct {
	Job         JobConfig
	Mirror      MirrorConfig
	Portal      PortalConfig
	Fingerprint FingerprintConfig
	Database    DatabaseConfig
}

// JobConfig holds job-level settings
type JobConfig struct {
	Name      string
	LogLevel  string
	LogFormat string
}

// MirrorConfig holds FTP mirror settings
type MirrorConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DialTimeout time.Duration
}

// PortalConfig holds Open Data portal management API settings
type PortalConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// FingerprintConfig holds change-tracking settings
type FingerprintConfig struct {
	// Dir is where sidecar files live when Backend is "file"
	Dir string
	// Backend selects the record store: "file" or "postgres"
	Backend string
}

// DatabaseConfig holds Postgres connection settings for the shared
// fingerprint registry backend
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// Load loads configuration from environment variables
func Load(jobName string) (*Config, error) {
	cfg := &Config{
		Job: JobConfig{
			Name:      jobName,
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Mirror: MirrorConfig{
			Host:        getEnv("FTP_HOST", "localhost"),
			Port:        getEnvInt("FTP_PORT", 21),
			User:        getEnv("FTP_USER", ""),
			Password:    getEnv("FTP_PASSWORD", ""),
			DialTimeout: getEnvDuration("FTP_DIAL_TIMEOUT", 30*time.Second),
		},
		Portal: PortalConfig{
			BaseURL:      getEnv("PORTAL_BASE_URL", ""),
			APIKey:       getEnv("PORTAL_API_KEY", ""),
			PollInterval: getEnvDuration("PORTAL_POLL_INTERVAL", 2*time.Second),
			WaitTimeout:  getEnvDuration("PORTAL_WAIT_TIMEOUT", 5*time.Minute),
		},
		Fingerprint: FingerprintConfig{
			Dir:     getEnv("FINGERPRINT_DIR", "/var/lib/etl/fingerprints"),
			Backend: getEnv("FINGERPRINT_BACKEND", "file"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "fingerprints"),
			User:        getEnv("POSTGRES_USER", "etl"),
			Password:    getEnv("POSTGRES_PASSWORD", "etl"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Mirror.Port < 1 || c.Mirror.Port > 65535 {
		return fmt.Errorf("invalid FTP port: %d", c.Mirror.Port)
	}

	if c.Fingerprint.Backend != "file" && c.Fingerprint.Backend != "postgres" {
		return fmt.Errorf("invalid fingerprint backend: %q", c.Fingerprint.Backend)
	}

	if c.Fingerprint.Backend == "file" && c.Fingerprint.Dir == "" {
		return fmt.Errorf("fingerprint dir is required for the file backend")
	}

	if c.Portal.PollInterval <= 0 {
		return fmt.Errorf("portal poll interval must be positive")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	return nil
}

// URL returns the PostgreSQL connection string for the fingerprint registry
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Helper functions

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
