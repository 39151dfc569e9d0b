package config

const (
	defaultDataDir              = "~/.local/share/marquee"
	defaultLogDir               = "~/.local/share/marquee/logs"
	defaultDatabaseDriver       = DriverSQLite
	defaultSchedulerInterval    = 300
	defaultSchedulerWorkers     = 4
	defaultMaxAttempts          = 5
	defaultHeartbeatInterval    = 15
	defaultClaimTimeout         = 300
	defaultMoveTimeout          = 120
	defaultTimezone             = "UTC"
	defaultRevenueLookbackDays  = 7
	defaultPaymentsBaseURL      = "https://api.stripe.com"
	defaultPaymentsTimeout      = 30
	defaultCurrency             = "USD"
	defaultArchivePrefix        = "archive"
	defaultDefaultStorage       = StorageLocal
	defaultDriveTimeout         = 60
	defaultNotifyRequestTimeout = 10
	defaultNtfyBaseURL          = "https://ntfy.sh"
	defaultAPIBind              = "127.0.0.1:7590"
	defaultAPITokenTTLHours     = 24 * 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultKafkaWriteTimeout    = 10
	defaultKafkaMaxAttempts     = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Database: Database{
			Driver: defaultDatabaseDriver,
		},
		Scheduler: Scheduler{
			IntervalSeconds:   defaultSchedulerInterval,
			Workers:           defaultSchedulerWorkers,
			MaxAttempts:       defaultMaxAttempts,
			HeartbeatInterval: defaultHeartbeatInterval,
			ClaimTimeout:      defaultClaimTimeout,
			MoveTimeout:       defaultMoveTimeout,
			Timezone:          defaultTimezone,
		},
		Revenue: Revenue{
			LookbackDays: defaultRevenueLookbackDays,
		},
		Payments: Payments{
			BaseURL:        defaultPaymentsBaseURL,
			TimeoutSeconds: defaultPaymentsTimeout,
			Currency:       defaultCurrency,
		},
		Storage: Storage{
			Default:       defaultDefaultStorage,
			ArchivePrefix: defaultArchivePrefix,
			Drive: DriveStorage{
				TimeoutSeconds: defaultDriveTimeout,
			},
		},
		Notifications: Notifications{
			NtfyBaseURL:       defaultNtfyBaseURL,
			RequestTimeout:    defaultNotifyRequestTimeout,
			KafkaWriteTimeout: defaultKafkaWriteTimeout,
			KafkaMaxAttempts:  defaultKafkaMaxAttempts,
			ArchiveFailures:   true,
			PayoutFailures:    true,
			CycleSummary:      false,
		},
		API: API{
			Bind:          defaultAPIBind,
			TokenTTLHours: defaultAPITokenTTLHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
