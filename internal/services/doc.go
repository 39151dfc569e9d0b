// Package services defines shared utilities consumed by the scheduler stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp cycle IDs, stage names, entity IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the Classify
//     function that splits failures into transient (retry on a later cycle)
//     and permanent (terminal state, operator attention).
//
// Storage movers and the payment processor client tag every failure with one
// of these markers so the lifecycle and payout state machines can decide
// between retry and terminal failure without inspecting backend errors.
package services
