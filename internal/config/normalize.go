package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeScheduler()
	c.normalizePayments()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "":
		c.Database.Driver = defaultDatabaseDriver
	case "sqlite3":
		c.Database.Driver = DriverSQLite
	case "postgresql", "pg":
		c.Database.Driver = DriverPostgres
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("MARQUEE_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = defaultSchedulerInterval
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = defaultSchedulerWorkers
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = defaultMaxAttempts
	}
	if c.Scheduler.HeartbeatInterval <= 0 {
		c.Scheduler.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Scheduler.ClaimTimeout <= 0 {
		c.Scheduler.ClaimTimeout = defaultClaimTimeout
	}
	if c.Scheduler.MoveTimeout <= 0 {
		c.Scheduler.MoveTimeout = defaultMoveTimeout
	}
	c.Scheduler.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = defaultTimezone
	}
	if c.Revenue.LookbackDays <= 0 {
		c.Revenue.LookbackDays = defaultRevenueLookbackDays
	}
}

func (c *Config) normalizePayments() {
	c.Payments.BaseURL = strings.TrimRight(strings.TrimSpace(c.Payments.BaseURL), "/")
	if c.Payments.BaseURL == "" {
		c.Payments.BaseURL = defaultPaymentsBaseURL
	}
	if c.Payments.TimeoutSeconds <= 0 {
		c.Payments.TimeoutSeconds = defaultPaymentsTimeout
	}
	c.Payments.Currency = strings.ToUpper(strings.TrimSpace(c.Payments.Currency))
	if c.Payments.Currency == "" {
		c.Payments.Currency = defaultCurrency
	}
	c.Payments.APIKey = strings.TrimSpace(c.Payments.APIKey)
	if value, ok := os.LookupEnv("MARQUEE_PAYMENTS_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Payments.APIKey = strings.TrimSpace(value)
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Default = strings.ToLower(strings.TrimSpace(c.Storage.Default))
	if c.Storage.Default == "" {
		c.Storage.Default = defaultDefaultStorage
	}
	c.Storage.ArchivePrefix = strings.Trim(strings.TrimSpace(c.Storage.ArchivePrefix), "/")
	if c.Storage.ArchivePrefix == "" {
		c.Storage.ArchivePrefix = defaultArchivePrefix
	}
	var err error
	if c.Storage.Local.Root, err = expandPath(strings.TrimSpace(c.Storage.Local.Root)); err != nil {
		return fmt.Errorf("storage.local.root: %w", err)
	}
	c.Storage.S3.Bucket = strings.TrimSpace(c.Storage.S3.Bucket)
	c.Storage.S3.Region = strings.TrimSpace(c.Storage.S3.Region)
	c.Storage.S3.Endpoint = strings.TrimSpace(c.Storage.S3.Endpoint)
	c.Storage.Drive.BaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.Drive.BaseURL), "/")
	if c.Storage.Drive.TimeoutSeconds <= 0 {
		c.Storage.Drive.TimeoutSeconds = defaultDriveTimeout
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyBaseURL = strings.TrimRight(strings.TrimSpace(c.Notifications.NtfyBaseURL), "/")
	if c.Notifications.NtfyBaseURL == "" {
		c.Notifications.NtfyBaseURL = defaultNtfyBaseURL
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	brokers := c.Notifications.KafkaBrokers[:0]
	for _, broker := range c.Notifications.KafkaBrokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Notifications.KafkaBrokers = brokers
	c.Notifications.KafkaTopic = strings.TrimSpace(c.Notifications.KafkaTopic)
	if c.Notifications.KafkaWriteTimeout <= 0 {
		c.Notifications.KafkaWriteTimeout = defaultKafkaWriteTimeout
	}
	if c.Notifications.KafkaMaxAttempts <= 0 {
		c.Notifications.KafkaMaxAttempts = defaultKafkaMaxAttempts
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.TokenSecret = strings.TrimSpace(c.API.TokenSecret)
	if c.API.TokenSecret == "" {
		if value, ok := os.LookupEnv("MARQUEE_API_SECRET"); ok {
			c.API.TokenSecret = strings.TrimSpace(value)
		}
	}
	if c.API.TokenTTLHours <= 0 {
		c.API.TokenTTLHours = defaultAPITokenTTLHours
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
