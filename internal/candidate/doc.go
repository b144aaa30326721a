// Package candidate assembles evaluated triggers, probability estimates and
// noise snapshots into an immutable record ready for archival and upload.
//
// Packaging is pure data assembly with derived summary fields (network SNR,
// merger time, combined FAR). It either produces a complete record or fails;
// a partially-built record is never returned.
package candidate
