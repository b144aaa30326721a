package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/strainline/strainline/internal/archive"
	"github.com/strainline/strainline/internal/state"
)

// recentLimit caps the candidate listings served by the API.
const recentLimit = 50

// Handler is the HTTP handler for all /api/v1/* endpoints plus /metrics.
// It reads detector state from the state store and candidates from the
// archive; it never mutates either.
type Handler struct {
	store   *state.Store
	archive *archive.Archive
	metrics *Metrics
	mux     *http.ServeMux
}

// New creates a Handler wired to the given stores and registers all routes.
func New(st *state.Store, arch *archive.Archive, m *Metrics) http.Handler {
	h := &Handler{store: st, archive: arch, metrics: m, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/detectors", h.listDetectors)
	h.mux.HandleFunc("/api/v1/detectors/", h.getDetector) // subtree, extracts {name}
	h.mux.HandleFunc("/api/v1/candidates", h.listCandidates)
	h.mux.HandleFunc("/api/v1/candidates/", h.getCandidate) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/metrics", h.serveMetrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: live detector set and candidate count.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	resp := HealthResponse{
		DetectorCount:  len(entries),
		LiveDetectors:  make([]string, 0, len(entries)),
		CandidateCount: len(h.store.RecentCandidates()),
	}
	for _, e := range entries {
		resp.LiveDetectors = append(resp.LiveDetectors, e.Status.Detector)
	}
	sort.Strings(resp.LiveDetectors)

	resp.State = "idle"
	if len(entries) > 0 {
		resp.State = "observing"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listDetectors returns GET /api/v1/detectors: all live detectors.
func (h *Handler) listDetectors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, detectorResponses(h.store))
}

// getDetector returns GET /api/v1/detectors/{name}: a single live detector.
func (h *Handler) getDetector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/detectors/")
	if name == "" {
		h.listDetectors(w, r)
		return
	}

	e, ok := h.store.Get(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "detector not found")
		return
	}
	// Stale entries not yet evicted read as not found.
	if time.Since(e.UpdatedAt) > h.store.TTL() {
		jsonErr(w, http.StatusNotFound, "detector not found")
		return
	}
	jsonResp(w, http.StatusOK, toDetectorResponse(e, h.store.TTL()))
}

// listCandidates returns GET /api/v1/candidates: recent archive summaries,
// newest first.
func (h *Handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summaries, err := h.archive.Recent(recentLimit)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, summaries)
}

// getCandidate returns GET /api/v1/candidates/{id}: the full packaged record.
func (h *Handler) getCandidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/candidates/")
	if id == "" {
		h.listCandidates(w, r)
		return
	}

	rec, _, err := h.archive.Load(id)
	if err != nil {
		jsonErr(w, http.StatusNotFound, "candidate not found")
		return
	}
	jsonResp(w, http.StatusOK, rec)
}

// snapshot returns GET /api/v1/snapshot: the combined live view.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store, h.archive))
}

// BuildSnapshot assembles the combined live view. Shared with the WebSocket
// hub so both surfaces serve the same schema.
func BuildSnapshot(st *state.Store, arch *archive.Archive) SnapshotResponse {
	summaries, err := arch.Recent(recentLimit)
	if err != nil {
		summaries = []archive.Summary{}
	}
	return SnapshotResponse{
		Detectors:   detectorResponses(st),
		Candidates:  summaries,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func detectorResponses(st *state.Store) []DetectorResponse {
	entries := st.List()
	out := make([]DetectorResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDetectorResponse(e, st.TTL()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Detector < out[j].Detector })
	return out
}

func toDetectorResponse(e *state.Entry, ttl time.Duration) DetectorResponse {
	return DetectorResponse{
		Detector:      e.Status.Detector,
		StrainEndTime: e.Status.StrainEndTime,
		VarianceRatio: e.Status.VarianceRatio,
		PSDVersion:    e.Status.PSDVersion,
		HorizonMpc:    e.Status.Horizon,
		UpdatedAt:     e.UpdatedAt.UTC().Format(time.RFC3339),
		Diagnostics:   computeDiagnostics(e.Status, time.Since(e.UpdatedAt), ttl),
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
