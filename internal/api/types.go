package api

import "github.com/strainline/strainline/internal/archive"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State          string   `json:"state"` // "observing" | "idle"
	DetectorCount  int      `json:"detector_count"`
	LiveDetectors  []string `json:"live_detectors"`
	CandidateCount int      `json:"candidate_count"` // recent ring size
}

// DetectorResponse is one detector entry in GET /api/v1/detectors or
// GET /api/v1/detectors/{name}.
type DetectorResponse struct {
	Detector      string           `json:"detector"`
	StrainEndTime float64          `json:"strain_end_time"`
	VarianceRatio float64          `json:"variance_ratio"`
	PSDVersion    uint64           `json:"psd_version"`
	HorizonMpc    float64          `json:"horizon_mpc"`
	UpdatedAt     string           `json:"updated_at"` // RFC3339
	Diagnostics   []DiagnosticHint `json:"diagnostics"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the
// WebSocket broadcast body.
type SnapshotResponse struct {
	Detectors   []DetectorResponse `json:"detectors"`
	Candidates  []archive.Summary  `json:"candidates"`
	GeneratedAt string             `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
