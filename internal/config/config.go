// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for timeline files, exports and the archive (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int

	Broker  BrokerConfig
	Export  ExportConfig
	Collect CollectConfig
	Upload  UploadConfig
	Backup  BackupConfig

	SyncSchedule string // cron expression for `serve`; empty disables scheduled syncs
}

// BrokerConfig holds the websocket connection settings.
// The session token is obtained out of band; tradelog never logs in.
type BrokerConfig struct {
	URL          string
	SessionToken string
	Locale       string
}

// ExportConfig holds CSV export defaults
type ExportConfig struct {
	Language string // language code or "auto"
	Sort     bool
}

// CollectConfig holds timeline collection defaults
type CollectConfig struct {
	LastDays int           // 0 collects the whole history
	Timeout  time.Duration // upper bound on one collection run, 0 means unbounded
}

// UploadConfig holds S3-compatible upload settings. Upload is disabled without a bucket.
type UploadConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // custom endpoint, e.g. Cloudflare R2
	AccessKeyID     string
	SecretAccessKey string
}

// BackupConfig holds archive maintenance settings
type BackupConfig struct {
	Schedule      string // cron expression for `serve`; empty disables maintenance
	RetentionDays int    // 0 keeps every snapshot
}

// Enabled reports whether an upload destination is configured
func (u UploadConfig) Enabled() bool {
	return u.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADELOG_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".tradelog")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		Port:      getEnvAsInt("HTTP_PORT", 8011),
		Broker: BrokerConfig{
			URL:          getEnv("TR_WS_URL", "wss://api.traderepublic.com"),
			SessionToken: getEnv("TR_SESSION_TOKEN", ""),
			Locale:       getEnv("TR_LOCALE", "en"),
		},
		Export: ExportConfig{
			Language: getEnv("EXPORT_LANG", "auto"),
			Sort:     getEnvAsBool("EXPORT_SORT", false),
		},
		Collect: CollectConfig{
			LastDays: getEnvAsInt("LAST_DAYS", 0),
			Timeout:  getEnvAsDuration("COLLECT_TIMEOUT", 5*time.Minute),
		},
		Upload: UploadConfig{
			Bucket:          getEnv("S3_BUCKET", ""),
			Prefix:          getEnv("S3_PREFIX", "tradelog"),
			Region:          getEnv("S3_REGION", "auto"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		Backup: BackupConfig{
			Schedule:      getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		SyncSchedule: getEnv("SYNC_SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Collect.LastDays < 0 {
		return fmt.Errorf("LAST_DAYS must not be negative, got %d", c.Collect.LastDays)
	}
	if c.Collect.Timeout < 0 {
		return fmt.Errorf("COLLECT_TIMEOUT must not be negative, got %s", c.Collect.Timeout)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative, got %d", c.Backup.RetentionDays)
	}
	if c.Upload.Enabled() && (c.Upload.AccessKeyID == "") != (c.Upload.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

// TimelinePath is the default location of the collected timeline JSON
func (c *Config) TimelinePath() string {
	return filepath.Join(c.DataDir, "all_events.json")
}

// ExportPath is the default location of the exported CSV
func (c *Config) ExportPath() string {
	return filepath.Join(c.DataDir, "account_transactions.csv")
}

// BackupDir holds archive snapshots
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// ArchivePath is the location of the SQLite archive
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "archive.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
