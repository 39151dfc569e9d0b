package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage backend kinds.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageDrive = "drive"
)

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Database selects the SQL backend. An empty SQLite DSN resolves to
// <data_dir>/marquee.db.
type Database struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Scheduler contains cycle timing, concurrency, and retry settings.
type Scheduler struct {
	IntervalSeconds   int    `toml:"interval_seconds"`
	Workers           int    `toml:"workers"`
	MaxAttempts       int    `toml:"max_attempts"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	ClaimTimeout      int    `toml:"claim_timeout"`
	MoveTimeout       int    `toml:"move_timeout"`
	Timezone          string `toml:"timezone"`
}

// Revenue contains aggregation settings.
type Revenue struct {
	// LookbackDays is how many closed days each cycle re-aggregates.
	LookbackDays int `toml:"lookback_days"`
}

// Payments contains payment processor credentials.
type Payments struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Currency       string `toml:"currency"`
}

// LocalStorage configures the filesystem backend.
type LocalStorage struct {
	Root string `toml:"root"`
}

// S3Storage configures the object store backend.
type S3Storage struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// DriveStorage configures the WebDAV cloud drive backend.
type DriveStorage struct {
	BaseURL        string `toml:"base_url"`
	Username       string `toml:"username"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Storage lists the configured backends. Assets name their backend by kind;
// Default is used for assets that carry no kind.
type Storage struct {
	Default       string       `toml:"default"`
	ArchivePrefix string       `toml:"archive_prefix"`
	Local         LocalStorage `toml:"local"`
	S3            S3Storage    `toml:"s3"`
	Drive         DriveStorage `toml:"drive"`
}

// Notifications contains ntfy and Kafka sink configuration.
type Notifications struct {
	NtfyBaseURL       string   `toml:"ntfy_base_url"`
	NtfyTopic         string   `toml:"ntfy_topic"`
	RequestTimeout    int      `toml:"request_timeout"`
	KafkaBrokers      []string `toml:"kafka_brokers"`
	KafkaTopic        string   `toml:"kafka_topic"`
	KafkaWriteTimeout int      `toml:"kafka_write_timeout"`
	KafkaMaxAttempts  int      `toml:"kafka_max_attempts"`
	ArchiveFailures   bool     `toml:"archive_failures"`
	PayoutFailures    bool     `toml:"payout_failures"`
	CycleSummary      bool     `toml:"cycle_summary"`
}

// API contains the HTTP trigger surface settings.
type API struct {
	Bind          string `toml:"bind"`
	TokenSecret   string `toml:"token_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for marquee.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Database: sqlite or postgres connection
//   - Scheduler: cycle interval, worker pool, retry ceiling, claim timeouts
//   - Revenue: aggregation lookback window
//   - Payments: payment processor endpoint and credentials
//   - Storage: local, s3, and drive backends plus archive prefix
//   - Notifications: ntfy push and Kafka event sinks
//   - API: HTTP trigger bind address and token signing secret
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Revenue       Revenue       `toml:"revenue"`
	Payments      Payments      `toml:"payments"`
	Storage       Storage       `toml:"storage"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/marquee/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("marquee.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == DriverSQLite && strings.TrimSpace(c.Database.DSN) == "" {
		return filepath.Join(c.Paths.DataDir, "marquee.db")
	}
	return c.Database.DSN
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "marqueed.lock")
}

// Location returns the timezone used to bucket revenue into calendar days.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CycleInterval returns the daemon cycle period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// HeartbeatInterval returns how often claim heartbeats are refreshed.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Scheduler.HeartbeatInterval) * time.Second
}

// ClaimTimeout returns how old a heartbeat may be before its claim is reclaimed.
func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.Scheduler.ClaimTimeout) * time.Second
}

// MoveTimeout bounds a single storage move.
func (c *Config) MoveTimeout() time.Duration {
	return time.Duration(c.Scheduler.MoveTimeout) * time.Second
}

// PaymentsTimeout bounds a single payment processor call.
func (c *Config) PaymentsTimeout() time.Duration {
	return time.Duration(c.Payments.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
