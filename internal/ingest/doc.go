// Package ingest receives the external data feeds over HTTP: strain
// segments, trigger batches, PSD updates and horizon distances.
//
// Each feed is validated at the door and enqueued on a buffered channel;
// when a buffer is full the oldest entry is evicted so the pipeline always
// works on the freshest data. Handlers never block on downstream consumers.
package ingest
