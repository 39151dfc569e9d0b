package preflight

import (
	"context"
	"strings"

	"marquee/internal/config"
	"marquee/internal/storage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Pinger is the store's connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, db Pinger) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if db != nil {
		results = append(results, CheckDatabase(ctx, cfg.Database.Driver, db))
	}

	movers := storage.NewRegistry(storage.LookupFromConfig(cfg), nil)
	for _, kind := range configuredBackends(cfg) {
		results = append(results, CheckStorage(ctx, movers, kind))
	}

	results = append(results, CheckPayments(ctx, cfg.Payments))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// configuredBackends lists the default backend plus any other backend with
// enough configuration to be used by an asset.
func configuredBackends(cfg *config.Config) []string {
	kinds := []string{cfg.Storage.Default}
	add := func(kind string, configured bool) {
		if configured && kind != cfg.Storage.Default {
			kinds = append(kinds, kind)
		}
	}
	add(config.StorageLocal, strings.TrimSpace(cfg.Storage.Local.Root) != "")
	add(config.StorageS3, strings.TrimSpace(cfg.Storage.S3.Bucket) != "")
	add(config.StorageDrive, strings.TrimSpace(cfg.Storage.Drive.BaseURL) != "")
	return kinds
}
