// Package pipeline wires the stages of the live search together: strain and
// PSD ingestion feed the per-detector noise trackers, trigger batches are
// evaluated once per decision epoch, and surviving candidates are packaged
// and dispatched to the publisher.
//
// All mutable per-detector state is owned by the single Run goroutine.
// Configuration updates are queued and applied between epochs, never
// mid-epoch, so one evaluation always runs against one consistent set of
// thresholds.
package pipeline
