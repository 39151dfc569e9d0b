// Package revenue turns kiosk play events into per-day host revenue records
// and computes the host's commission on them.
//
// Amounts are integer cents and rates are basis points, so aggregation and
// commission are exact. Each record snapshots the rate in force on its date;
// later rate changes never rewrite records that already exist.
package revenue
