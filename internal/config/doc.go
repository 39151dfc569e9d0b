// Package config loads, normalizes, and validates marquee configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MARQUEE_PAYMENTS_API_KEY. The Config type centralizes every knob the
// scheduler, daemon, and CLI need: database connection, storage backends,
// payment processor credentials, retry ceilings, and notification sinks.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
