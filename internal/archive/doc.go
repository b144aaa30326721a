// Package archive is the local durable store for packaged candidates.
//
// Every candidate record and its artifacts are written here before any
// upload is attempted, so a broker outage never loses a candidate. The
// record body is stored as its canonical JSON encoding; reloading a record
// reproduces the packaged significance and probability fields exactly.
package archive
