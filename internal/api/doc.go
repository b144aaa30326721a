// Package api implements the REST surface for the strainline process.
//
// All endpoints are read-only views over the state store and the candidate
// archive: detector status, recent candidates, full candidate records and a
// combined snapshot used by the WebSocket hub. A Prometheus text exposition
// endpoint is mounted at /metrics.
package api
