package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validatePayments(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		return nil
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set when database.driver is postgres (or set MARQUEE_DATABASE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
}

func (c *Config) validateScheduler() error {
	if err := ensurePositiveMap(map[string]int{
		"scheduler.interval_seconds":   c.Scheduler.IntervalSeconds,
		"scheduler.workers":            c.Scheduler.Workers,
		"scheduler.max_attempts":       c.Scheduler.MaxAttempts,
		"scheduler.heartbeat_interval": c.Scheduler.HeartbeatInterval,
		"scheduler.claim_timeout":      c.Scheduler.ClaimTimeout,
		"scheduler.move_timeout":       c.Scheduler.MoveTimeout,
		"revenue.lookback_days":        c.Revenue.LookbackDays,
	}); err != nil {
		return err
	}
	if c.Scheduler.HeartbeatInterval >= c.Scheduler.ClaimTimeout {
		return errors.New("scheduler.heartbeat_interval must be shorter than scheduler.claim_timeout")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}

func (c *Config) validatePayments() error {
	if c.Payments.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/marquee/config.toml"
		}
		return fmt.Errorf("payments.api_key is required. Set MARQUEE_PAYMENTS_API_KEY env var or edit %s (create with 'marquee config init')", defaultPath)
	}
	if !strings.HasPrefix(c.Payments.BaseURL, "http://") && !strings.HasPrefix(c.Payments.BaseURL, "https://") {
		return fmt.Errorf("payments.base_url must be an http(s) URL, got %q", c.Payments.BaseURL)
	}
	if c.Payments.TimeoutSeconds <= 0 {
		return errors.New("payments.timeout_seconds must be positive")
	}
	if _, err := currency.ParseISO(c.Payments.Currency); err != nil {
		return fmt.Errorf("payments.currency: %w", err)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Default {
	case StorageLocal, StorageS3, StorageDrive:
	default:
		return fmt.Errorf("storage.default: unsupported value %q", c.Storage.Default)
	}
	if c.Storage.Default == StorageS3 && c.Storage.S3.Bucket == "" {
		return errors.New("storage.s3.bucket must be set when storage.default is s3")
	}
	if c.Storage.Default == StorageDrive && c.Storage.Drive.BaseURL == "" {
		return errors.New("storage.drive.base_url must be set when storage.default is drive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.KafkaTopic != "" && len(c.Notifications.KafkaBrokers) == 0 {
		return errors.New("notifications.kafka_brokers must be set when notifications.kafka_topic is set")
	}
	if len(c.Notifications.KafkaBrokers) > 0 && c.Notifications.KafkaTopic == "" {
		return errors.New("notifications.kafka_topic must be set when notifications.kafka_brokers is set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
