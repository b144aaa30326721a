package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/strainline/strainline/internal/single"
)

func postJSON(t *testing.T, h http.Handler, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func validTrigger(det string, endTime float64) single.Trigger {
	return single.Trigger{
		Detector: det, EndTime: endTime, SNR: 8, ReducedChisq: 1.1,
		TemplateDuration: 10, SigmaSq: 1e46, Mass1: 1.4, Mass2: 1.4,
	}
}

func TestHandleTriggers_AcceptsValidBatch(t *testing.T) {
	r := New(4)
	batch := TriggerBatch{
		Detector: "H1",
		Epoch:    1187008880,
		Triggers: []single.Trigger{
			validTrigger("H1", 1187008880.1),
			validTrigger("H1", 1187008880.5),
		},
	}
	rr := postJSON(t, r.Handler(), "/ingest/v1/triggers", batch)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}

	select {
	case got := <-r.Triggers():
		if got.Detector != "H1" || len(got.Triggers) != 2 {
			t.Errorf("queued batch = %+v", got)
		}
	default:
		t.Fatal("accepted batch never enqueued")
	}
}

func TestHandleTriggers_RejectsContractViolations(t *testing.T) {
	r := New(4)

	nonMonotonic := TriggerBatch{
		Detector: "H1",
		Triggers: []single.Trigger{
			validTrigger("H1", 1187008880.5),
			validTrigger("H1", 1187008880.1),
		},
	}
	if rr := postJSON(t, r.Handler(), "/ingest/v1/triggers", nonMonotonic); rr.Code != http.StatusBadRequest {
		t.Errorf("non-monotonic batch: status = %d, want 400", rr.Code)
	}

	wrongDetector := TriggerBatch{
		Detector: "H1",
		Triggers: []single.Trigger{validTrigger("L1", 1187008880.1)},
	}
	if rr := postJSON(t, r.Handler(), "/ingest/v1/triggers", wrongDetector); rr.Code != http.StatusBadRequest {
		t.Errorf("mixed-detector batch: status = %d, want 400", rr.Code)
	}

	select {
	case <-r.Triggers():
		t.Fatal("rejected batch must not be enqueued")
	default:
	}
}

func TestHandlePSD_ValidatesContract(t *testing.T) {
	r := New(4)

	good := PSDUpdate{Detector: "L1", DeltaF: 0.25, Values: []float64{0, 1e-46, 2e-46}}
	if rr := postJSON(t, r.Handler(), "/ingest/v1/psd", good); rr.Code != http.StatusAccepted {
		t.Fatalf("valid psd: status = %d", rr.Code)
	}

	// Non-positive value at a non-DC bin violates the PSD source contract.
	bad := PSDUpdate{Detector: "L1", DeltaF: 0.25, Values: []float64{0, -1e-46, 2e-46}}
	if rr := postJSON(t, r.Handler(), "/ingest/v1/psd", bad); rr.Code != http.StatusBadRequest {
		t.Errorf("negative psd bin: status = %d, want 400", rr.Code)
	}

	got := <-r.PSDs()
	if got.Detector != "L1" {
		t.Errorf("queued psd detector = %q", got.Detector)
	}
}

func TestHandleStrain_RoundTrips(t *testing.T) {
	r := New(4)
	seg := StrainSegment{Detector: "H1", Epoch: 1187008880, SampleRate: 16, Samples: make([]float64, 32)}
	if rr := postJSON(t, r.Handler(), "/ingest/v1/strain", seg); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	got := <-r.Strain()
	ts := got.Series()
	if ts.Duration() != 2.0 {
		t.Errorf("series duration = %g, want 2", ts.Duration())
	}
	if ts.EndTime() != 1187008882 {
		t.Errorf("series end = %f", ts.EndTime())
	}
}

func TestHandleHorizon(t *testing.T) {
	r := New(4)
	if rr := postJSON(t, r.Handler(), "/ingest/v1/horizon", HorizonUpdate{Detector: "V1", HorizonMpc: 55}); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr := postJSON(t, r.Handler(), "/ingest/v1/horizon", HorizonUpdate{Detector: "V1"}); rr.Code != http.StatusBadRequest {
		t.Errorf("zero horizon: status = %d, want 400", rr.Code)
	}
}

func TestEnqueue_EvictsOldestWhenFull(t *testing.T) {
	r := New(2)
	for i := 0; i < 5; i++ {
		seg := StrainSegment{Detector: "H1", Epoch: float64(i), SampleRate: 16, Samples: []float64{0}}
		postJSON(t, r.Handler(), "/ingest/v1/strain", seg)
	}
	// Buffer of 2: only the newest two survive.
	first := <-r.Strain()
	second := <-r.Strain()
	if first.Epoch != 3 || second.Epoch != 4 {
		t.Errorf("kept epochs %g, %g; want 3, 4", first.Epoch, second.Epoch)
	}
}

func TestRejectsNonPost(t *testing.T) {
	r := New(1)
	req := httptest.NewRequest(http.MethodGet, "/ingest/v1/psd", nil)
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d, want 405", rr.Code)
	}
}
