package testsupport

import (
	"path/filepath"
	"testing"

	"marquee/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.Local.Root = filepath.Join(base, "media")
	cfgVal.Payments.APIKey = "sk_test"
	cfgVal.Payments.BaseURL = "http://127.0.0.1:0"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.TokenSecret = "test-secret"
	cfgVal.Notifications.ArchiveFailures = false
	cfgVal.Notifications.PayoutFailures = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxAttempts overrides the retry ceiling.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.MaxAttempts = n
	}
}

// WithPaymentsURL points the payment processor client at a test server.
func WithPaymentsURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Payments.BaseURL = url
	}
}

// WithTimezone overrides the revenue bucketing timezone.
func WithTimezone(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.Timezone = name
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
