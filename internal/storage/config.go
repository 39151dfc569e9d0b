package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"marquee/internal/config"
	"marquee/internal/services"
)

// Config selects and configures one backend. Exactly one of Local, S3 or
// Drive is set, matching Kind.
type Config struct {
	Kind  string
	Local *config.LocalStorage
	S3    *config.S3Storage
	Drive *config.DriveStorage
}

// Validate checks that the variant matches its kind and carries the
// required settings.
func (c Config) Validate() error {
	set := 0
	for _, present := range []bool{c.Local != nil, c.S3 != nil, c.Drive != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("storage %q: expected exactly one backend section, got %d", c.Kind, set)
	}
	switch c.Kind {
	case config.StorageLocal:
		if c.Local == nil {
			return fmt.Errorf("storage %q: local section missing", c.Kind)
		}
		if strings.TrimSpace(c.Local.Root) == "" {
			return errors.New("storage local: root is required")
		}
	case config.StorageS3:
		if c.S3 == nil {
			return fmt.Errorf("storage %q: s3 section missing", c.Kind)
		}
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return errors.New("storage s3: bucket is required")
		}
	case config.StorageDrive:
		if c.Drive == nil {
			return fmt.Errorf("storage %q: drive section missing", c.Kind)
		}
		if strings.TrimSpace(c.Drive.BaseURL) == "" {
			return errors.New("storage drive: base_url is required")
		}
	default:
		return fmt.Errorf("storage: unsupported kind %q", c.Kind)
	}
	return nil
}

// ConfigLookup resolves backend configuration by kind.
type ConfigLookup interface {
	Lookup(ctx context.Context, kind string) (Config, error)
}

// ConfigLookupFunc adapts a function to ConfigLookup.
type ConfigLookupFunc func(ctx context.Context, kind string) (Config, error)

// Lookup calls f.
func (f ConfigLookupFunc) Lookup(ctx context.Context, kind string) (Config, error) {
	return f(ctx, kind)
}

// LookupFromConfig serves backend configuration from the [storage] section.
// An empty kind resolves to storage.default.
func LookupFromConfig(cfg *config.Config) ConfigLookup {
	return ConfigLookupFunc(func(_ context.Context, kind string) (Config, error) {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kind == "" {
			kind = cfg.Storage.Default
		}
		var out Config
		out.Kind = kind
		switch kind {
		case config.StorageLocal:
			local := cfg.Storage.Local
			if local.Root == "" {
				local.Root = filepath.Join(cfg.Paths.DataDir, "media")
			}
			out.Local = &local
		case config.StorageS3:
			s3cfg := cfg.Storage.S3
			out.S3 = &s3cfg
		case config.StorageDrive:
			drive := cfg.Storage.Drive
			out.Drive = &drive
		}
		if err := out.Validate(); err != nil {
			return Config{}, services.Wrap(services.ErrConfiguration, "storage", "lookup", kind, err)
		}
		return out, nil
	})
}

// Build constructs the mover for a validated configuration.
func Build(ctx context.Context, cfg Config) (Mover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "build", cfg.Kind, err)
	}
	switch cfg.Kind {
	case config.StorageLocal:
		return NewLocalMover(cfg.Local.Root)
	case config.StorageS3:
		return NewS3Mover(ctx, *cfg.S3)
	default:
		return NewDriveMover(*cfg.Drive)
	}
}
