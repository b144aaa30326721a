// Package publisher uploads packaged candidates to the remote alert broker.
//
// Publishing is a sequence of independent fallible steps: archive locally,
// create the broker event, then attach each artifact. Every step's outcome
// is collected into a Report; one failed step never aborts the rest, and a
// failed publish is surfaced to the caller as a report, not an error. No
// step is retried.
package publisher
