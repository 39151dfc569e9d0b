// Package api exposes the HTTP trigger surface for scheduler cycles.
//
// The router serves an unauthenticated GET /health backed by the store and a
// POST /v1/cycles endpoint that runs one full archive, aggregate, batch and
// dispatch cycle. Cycle requests carry an HS256 bearer token with the
// operator role, minted by IssueToken (the `marquee api-token` command).
package api
