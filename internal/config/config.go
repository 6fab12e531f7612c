// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Supported object-storage backends.
const (
	BackendGCS   = "gcs"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port            string
	AppEnv          string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	MaxUploadBytes   int64
	TranscodeWorkers int

	// Object storage. StorageBackend picks the implementation; the remaining
	// fields are interpreted by that backend only.
	StorageBackend    string
	StorageBucket     string
	StorageEndpoint   string // MinIO host, or a custom S3 endpoint URL
	StorageAccessKey  string
	StorageSecretKey  string
	StorageUseSSL     bool
	StorageRegion     string
	StoragePublicBase string // overrides the host part of public URLs, e.g. "https://cdn.example.com"
	GCSCredentials    string // path to a service account file; empty uses ambient credentials
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading from environment")
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		AppEnv:          getEnv("APP_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		MaxUploadBytes:   getInt64("MAX_UPLOAD_BYTES", 10<<20),
		TranscodeWorkers: int(getInt64("TRANSCODE_WORKERS", int64(runtime.NumCPU()))),

		StorageBackend:    getEnv("STORAGE_BACKEND", BackendGCS),
		StorageBucket:     getEnv("STORAGE_BUCKET", os.Getenv("GOOGLE_CLOUD_BUCKET_NAME")),
		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", ""),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageUseSSL:     getEnv("STORAGE_USE_SSL", "false") == "true",
		StorageRegion:     getEnv("STORAGE_REGION", "us-east-1"),
		StoragePublicBase: getEnv("STORAGE_PUBLIC_BASE", ""),
		GCSCredentials:    getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
	}
}

// Validate reports the first setting that would prevent the service from starting.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendGCS, BackendS3, BackendMinio:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.StorageBucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.TranscodeWorkers <= 0 {
		return fmt.Errorf("TRANSCODE_WORKERS must be positive, got %d", c.TranscodeWorkers)
	}
	return nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
