/*
Package configs is responsible for loading and parsing the application's configuration settings.

Every value comes from an environment variable with a development-friendly default: server
port and allowed origins, snapshot location and cadence, record retention, the optional
PostgreSQL snapshot backend, and the upload storage target (local directory or S3 bucket).
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string

	// Persistence Settings
	SnapshotPath     string
	SnapshotInterval time.Duration
	DatabaseDSN      string

	// Lifecycle Settings
	Retention     time.Duration
	SweepInterval time.Duration

	// Upload Settings
	UploadDir     string
	PublicBaseURL string

	// S3 Storage Settings
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicURL       string
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// UsesS3 reports whether uploads go to an S3-compatible bucket instead of UploadDir.
func (c *AppConfig) UsesS3() bool {
	return c.S3BucketName != ""
}

// UsesPostgres reports whether snapshots are stored in PostgreSQL instead of SnapshotPath.
func (c *AppConfig) UsesPostgres() bool {
	return c.DatabaseDSN != ""
}

// LoadConfig reads and validates the application configuration from environment variables.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = getEnv("ENVIRONMENT", "development")

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	if port < 1024 || port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", port, 1024, 65535)
	}
	cfg.Port = port

	// --- Security Settings ---
	cfg.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))

	// --- Persistence Settings ---
	cfg.SnapshotPath = getEnv("SNAPSHOT_PATH", "data/users.geojson")
	if cfg.SnapshotInterval, err = getDuration("SNAPSHOT_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	cfg.DatabaseDSN = os.Getenv("DATABASE_URL")

	// --- Lifecycle Settings ---
	if cfg.Retention, err = getDuration("RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	// --- Upload Settings ---
	cfg.UploadDir = getEnv("UPLOAD_DIR", "public/uploads")
	cfg.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	// --- S3 Storage Settings ---
	cfg.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	cfg.S3PublicURL = strings.TrimRight(os.Getenv("S3_PUBLIC_URL"), "/")

	if err := cfg.validateS3(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateS3 enforces that the S3 settings are given all together or not at all.
func (c *AppConfig) validateS3() error {
	required := map[string]string{
		"S3_BUCKET_NAME":       c.S3BucketName,
		"S3_ENDPOINT":          c.S3Endpoint,
		"S3_ACCESS_KEY_ID":     c.S3AccessKeyID,
		"S3_SECRET_ACCESS_KEY": c.S3SecretAccessKey,
	}

	set := 0
	for _, v := range required {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return nil
	}

	for _, name := range []string{"S3_BUCKET_NAME", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY"} {
		if required[name] == "" {
			return fmt.Errorf("%s environment variable is required when S3 storage is configured", name)
		}
	}

	if c.S3PublicURL == "" {
		c.S3PublicURL = strings.TrimRight(c.S3Endpoint, "/") + "/" + c.S3BucketName
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
