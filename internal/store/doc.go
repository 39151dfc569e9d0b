// Package store persists campaigns, media assets, lifecycle records, host
// revenue, and payouts.
//
// Two SQL dialects are supported through database/sql: SQLite
// (modernc.org/sqlite, the default) and Postgres (lib/pq). Queries are
// written with ? placeholders and rebound for Postgres. Every state
// transition that workers race on is a conditional UPDATE (claim by status
// and heartbeat, complete by claim token), so duplicate or concurrent
// scheduler invocations cannot double-process a row.
package store
