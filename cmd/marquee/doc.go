// Command marquee is the operator CLI for the campaign archival and host
// payout scheduler.
//
// It runs cycles on demand, lists and resolves failed archives and payouts,
// reports store health, mints API tokens for the HTTP trigger, and runs the
// daemon in the foreground.
package main
