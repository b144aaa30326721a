package api

import (
	"net/http"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metrics holds the process counters exposed on /metrics. The pipeline
// increments them; the handler only reads.
type Metrics struct {
	EpochsTotal     atomic.Int64 // completed decision epochs
	CandidatesTotal atomic.Int64 // candidates packaged
	PublishFailures atomic.Int64 // publish reports with at least one failed step
}

// serveMetrics writes the Prometheus text exposition for GET /metrics.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	families := []*dto.MetricFamily{
		gauge("strainline_detectors_live",
			"Number of detectors with a fresh status entry.",
			float64(len(h.store.List()))),
		counter("strainline_epochs_total",
			"Completed decision epochs since process start.",
			float64(h.metrics.EpochsTotal.Load())),
		counter("strainline_candidates_total",
			"Candidates packaged since process start.",
			float64(h.metrics.CandidatesTotal.Load())),
		counter("strainline_publish_failures_total",
			"Publish reports with at least one failed step.",
			float64(h.metrics.PublishFailures.Load())),
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return
		}
	}
}

func gauge(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(value)}}},
	}
}

func counter(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(value)}}},
	}
}
