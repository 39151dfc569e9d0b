// Package notifications publishes archival, payout and cycle events to
// operators and downstream systems.
//
// A Sink accepts an Event with a free-form Payload. NewSink assembles the
// configured transports (an ntfy push topic and/or a Kafka topic), filters
// events by the per-event switches in [notifications], and degrades to a
// no-op when nothing is configured. Publishing is best effort: callers log
// sink errors and carry on.
package notifications
