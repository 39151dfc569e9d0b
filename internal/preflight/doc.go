// Package preflight provides readiness checks for the filesystem paths,
// database, storage backends and payment processor that marquee depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failed check so a
//     misconfigured backend shows up before the first cycle.
//   - The CLI "marquee status" command renders the same results.
//
// Backends that are not configured are skipped.
package preflight
