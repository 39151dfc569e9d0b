// Package daemon coordinates the long-running marqueed process.
//
// It holds a flock-based lock so only one instance drives cycles against a
// data directory, runs scheduler cycles on a fixed interval, and serves the
// HTTP trigger surface from internal/api. Cycles started by the ticker and by
// HTTP requests are serialized.
//
// Keep orchestration here limited to startup, shutdown and timing: the cycle
// itself belongs to internal/scheduler.
package daemon
