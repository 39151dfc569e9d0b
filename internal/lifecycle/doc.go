// Package lifecycle moves the media assets of expired campaigns into the
// archive.
//
// Detector lists campaigns whose end date has passed. Machine drives each
// asset through active -> pending_archive -> archived | failed_archive using
// conditional store updates as claims, so concurrent workers never archive
// the same asset twice, and completes a campaign once every asset is settled.
package lifecycle
