package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDirName is the directory under the user's home holding .env, the database and the log
const DefaultDirName = ".shopsync"

// DefaultConfigDir returns ~/.shopsync
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultDirName), nil
}

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for <configDir>/.env)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// ENV_FILE_PATH overrides both the directory file and the working directory fallback
	if envFilePath := getEnvString("ENV_FILE_PATH", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		_ = godotenv.Load() // Ignore errors if file doesn't exist
	}

	cfg.Server = ServerConfig{
		Enabled:             getEnvBool("SHOPSYNC_SERVER_ENABLED", true),
		URL:                 getEnvString("SHOPSYNC_SERVER_URL", "http://localhost:3000"),
		Token:               getEnvString("SHOPSYNC_SERVER_TOKEN", ""),
		Timeout:             getEnvDuration("SHOPSYNC_SERVER_TIMEOUT", 30*time.Second),
		MaxRetries:          getEnvInt("SHOPSYNC_SERVER_MAX_RETRIES", 3),
		DeviceName:          getEnvString("SHOPSYNC_DEVICE_NAME", ""),
		MaxIdleConns:        getEnvInt("SHOPSYNC_SERVER_MAX_IDLE_CONNS", 20),
		MaxIdleConnsPerHost: getEnvInt("SHOPSYNC_SERVER_MAX_IDLE_CONNS_PER_HOST", 20),
		IdleConnTimeout:     getEnvDuration("SHOPSYNC_SERVER_IDLE_CONN_TIMEOUT", 90*time.Second),
		RequestsPerMinute:   getEnvInt("SHOPSYNC_SERVER_REQUESTS_PER_MINUTE", 600),
		BurstLimit:          getEnvInt("SHOPSYNC_SERVER_BURST", 50),
	}

	cfg.Sync = SyncConfig{
		Interval:           getEnvDuration("SHOPSYNC_SYNC_INTERVAL", 30*time.Second),
		BatchSize:          getEnvInt("SHOPSYNC_BATCH_SIZE", 50),
		MaxRetryCount:      getEnvInt("SHOPSYNC_MAX_RETRY_COUNT", 5),
		StabilizationDelay: getEnvDuration("SHOPSYNC_STABILIZATION_DELAY", 2*time.Second),
		ProbeInterval:      getEnvDuration("SHOPSYNC_PROBE_INTERVAL", 15*time.Second),
		Standalone:         getEnvBool("SHOPSYNC_STANDALONE", true),
	}

	cfg.Session = SessionConfig{
		TenantID: getEnvString("SHOPSYNC_TENANT_ID", ""),
		UserID:   getEnvString("SHOPSYNC_USER_ID", ""),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("SHOPSYNC_DB_PATH", filepath.Join(configDir, "shopsync.db")),
		BusyTimeout:     getEnvInt("SHOPSYNC_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("SHOPSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("SHOPSYNC_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("SHOPSYNC_DB_CACHE_SIZE", -16000), // ~16MB
		ForeignKeys:     getEnvBool("SHOPSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("SHOPSYNC_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("SHOPSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("SHOPSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("SHOPSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("SHOPSYNC_LOG_OUTPUT", filepath.Join(configDir, "shopsync.log")),
		AddSource:  getEnvBool("SHOPSYNC_LOG_ADD_SOURCE", true),
		TimeFormat: getTimeFormat(getEnvString("SHOPSYNC_LOG_TIME_FORMAT", "RFC3339")),
	}

	return cfg, cfg.Validate()
}
