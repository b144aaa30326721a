package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/strainline/strainline/internal/single"
	"github.com/strainline/strainline/internal/strain"
)

// maxBodyBytes bounds a single ingest request. Strain segments dominate; a
// 64 s segment at 16384 Hz encodes well under this.
const maxBodyBytes = 64 << 20

// StrainSegment is one uniformly sampled stretch of strain for a detector.
type StrainSegment struct {
	Detector   string    `json:"detector"`
	Epoch      float64   `json:"epoch"`
	SampleRate float64   `json:"sample_rate"`
	Samples    []float64 `json:"samples"`
}

// Series converts the wire form to a strain.TimeSeries.
func (s StrainSegment) Series() strain.TimeSeries {
	return strain.TimeSeries{Samples: s.Samples, Epoch: s.Epoch, SampleRate: s.SampleRate}
}

// TriggerBatch is one decision epoch's worth of triggers for a detector.
type TriggerBatch struct {
	Detector          string           `json:"detector"`
	Epoch             float64          `json:"epoch"`
	HardwareInjection bool             `json:"hardware_injection"`
	Triggers          []single.Trigger `json:"triggers"`
}

// PSDUpdate carries a refreshed noise power estimate for a detector.
type PSDUpdate struct {
	Detector string    `json:"detector"`
	DeltaF   float64   `json:"delta_f"`
	Values   []float64 `json:"values"`
}

// PSD converts the wire form to a strain.PSD.
func (p PSDUpdate) PSD() strain.PSD {
	return strain.PSD{Values: p.Values, DeltaF: p.DeltaF}
}

// HorizonUpdate carries a detector's current BNS horizon distance.
type HorizonUpdate struct {
	Detector   string  `json:"detector"`
	HorizonMpc float64 `json:"horizon_mpc"`
}

// Receiver validates incoming feeds and hands them to the pipeline over
// buffered channels.
type Receiver struct {
	strain   chan StrainSegment
	triggers chan TriggerBatch
	psds     chan PSDUpdate
	horizons chan HorizonUpdate
	mux      *http.ServeMux
}

// New creates a Receiver with the given channel capacity per feed.
func New(buffer int) *Receiver {
	r := &Receiver{
		strain:   make(chan StrainSegment, buffer),
		triggers: make(chan TriggerBatch, buffer),
		psds:     make(chan PSDUpdate, buffer),
		horizons: make(chan HorizonUpdate, buffer),
		mux:      http.NewServeMux(),
	}
	r.mux.HandleFunc("/ingest/v1/strain", r.handleStrain)
	r.mux.HandleFunc("/ingest/v1/triggers", r.handleTriggers)
	r.mux.HandleFunc("/ingest/v1/psd", r.handlePSD)
	r.mux.HandleFunc("/ingest/v1/horizon", r.handleHorizon)
	return r
}

// Handler returns the HTTP handler for the ingest surface.
func (r *Receiver) Handler() http.Handler { return r.mux }

// Strain is the validated strain feed.
func (r *Receiver) Strain() <-chan StrainSegment { return r.strain }

// Triggers is the validated trigger feed.
func (r *Receiver) Triggers() <-chan TriggerBatch { return r.triggers }

// PSDs is the validated PSD feed.
func (r *Receiver) PSDs() <-chan PSDUpdate { return r.psds }

// Horizons is the horizon distance feed.
func (r *Receiver) Horizons() <-chan HorizonUpdate { return r.horizons }

func (r *Receiver) handleStrain(w http.ResponseWriter, req *http.Request) {
	var seg StrainSegment
	if !decodeBody(w, req, &seg) {
		return
	}
	if seg.Detector == "" || seg.SampleRate <= 0 || len(seg.Samples) == 0 {
		http.Error(w, "strain segment needs detector, sample_rate and samples", http.StatusBadRequest)
		return
	}
	enqueue(r.strain, seg, "strain")
	slog.Debug("ingest: strain segment accepted",
		"detector", seg.Detector,
		"epoch", seg.Epoch,
		"duration", seg.Series().Duration(),
	)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Receiver) handleTriggers(w http.ResponseWriter, req *http.Request) {
	var batch TriggerBatch
	if !decodeBody(w, req, &batch) {
		return
	}
	if batch.Detector == "" {
		http.Error(w, "trigger batch needs a detector", http.StatusBadRequest)
		return
	}
	if err := single.ValidateBatch(batch.Detector, batch.Triggers); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	enqueue(r.triggers, batch, "triggers")
	slog.Debug("ingest: trigger batch accepted",
		"detector", batch.Detector,
		"epoch", batch.Epoch,
		"count", len(batch.Triggers),
	)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Receiver) handlePSD(w http.ResponseWriter, req *http.Request) {
	var up PSDUpdate
	if !decodeBody(w, req, &up) {
		return
	}
	if up.Detector == "" {
		http.Error(w, "psd update needs a detector", http.StatusBadRequest)
		return
	}
	if err := up.PSD().Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	enqueue(r.psds, up, "psd")
	slog.Debug("ingest: psd accepted", "detector", up.Detector, "bins", len(up.Values))
	w.WriteHeader(http.StatusAccepted)
}

func (r *Receiver) handleHorizon(w http.ResponseWriter, req *http.Request) {
	var up HorizonUpdate
	if !decodeBody(w, req, &up) {
		return
	}
	if up.Detector == "" || up.HorizonMpc <= 0 {
		http.Error(w, "horizon update needs a detector and a positive horizon_mpc", http.StatusBadRequest)
		return
	}
	enqueue(r.horizons, up, "horizon")
	w.WriteHeader(http.StatusAccepted)
}

func decodeBody(w http.ResponseWriter, req *http.Request, v any) bool {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	body := io.LimitReader(req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("malformed body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// enqueue is non-blocking: when the buffer is full the oldest entry is
// evicted to make room for the newest.
func enqueue[T any](ch chan T, v T, feed string) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
			slog.Warn("ingest: buffer full, evicted oldest entry",
				"feed", feed, "buffer_cap", cap(ch))
		default:
		}
		ch <- v
	}
}
