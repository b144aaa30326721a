// Package state is the in-memory view of the running search: per-detector
// status entries with TTL eviction and a short ring of recently published
// candidates. The HTTP API and the WebSocket hub read from here.
package state
