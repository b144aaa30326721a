package candidate

import (
	"sort"
	"time"

	"github.com/strainline/strainline/internal/pastro"
	"github.com/strainline/strainline/internal/single"
	"github.com/strainline/strainline/internal/strain"
)

const secondsPerYear = 31557600.0

// NoiseSnapshot captures the per-detector noise state the candidate was
// evaluated against: the PSD in effect and the short-term noise variation
// ratio at the trigger time.
type NoiseSnapshot struct {
	PSD           strain.PSD `json:"psd"`
	VarianceRatio float64    `json:"variance_ratio"`
	PSDVersion    uint64     `json:"psd_version"`
}

// DetectorData is the per-detector slice of a packaged candidate.
type DetectorData struct {
	Trigger           single.Trigger `json:"trigger"`
	NewSNR            float64        `json:"newsnr"`
	IFARYears         float64        `json:"ifar_years"`
	EffectiveDistance float64        `json:"effective_distance"`
	Noise             NoiseSnapshot  `json:"noise"`
}

// Record is a self-contained candidate payload. Read-only after packaging;
// the publisher owns it exclusively during upload.
type Record struct {
	ID            string    `json:"id"`
	SearchVersion string    `json:"search_version"`
	CreatedAt     time.Time `json:"created_at"`

	Detectors map[string]DetectorData `json:"detectors"`

	// NetworkSNR combines the contributing detectors in quadrature.
	NetworkSNR float64 `json:"network_snr"`

	// MergerTime is the mean of the per-detector trigger end times, GPS
	// seconds.
	MergerTime float64 `json:"merger_time"`

	// IFARYears is the candidate's inverse false-alarm rate; FAR is the
	// same quantity inverted to Hz.
	IFARYears float64 `json:"ifar_years"`
	FAR       float64 `json:"far"`

	// Astro is the fused astrophysical probability estimate; nil when the
	// rate model could not produce one (e.g. too many triggered detectors).
	Astro *pastro.AstroProbability `json:"astro,omitempty"`

	HardwareInjection bool `json:"hardware_injection"`

	// UploadedEventID is set by the publisher after a successful
	// create-event call, empty otherwise.
	UploadedEventID string `json:"uploaded_event_id,omitempty"`
}

// TriggeredDetectors returns the contributing detector names, sorted.
func (r *Record) TriggeredDetectors() []string {
	out := make([]string, 0, len(r.Detectors))
	for det := range r.Detectors {
		out = append(out, det)
	}
	sort.Strings(out)
	return out
}

// Artifact is a derived by-product of a candidate (probability summary,
// diagnostic plot, auxiliary series) uploaded alongside the primary payload.
type Artifact struct {
	Name        string   `json:"name"`
	ContentType string   `json:"content_type"`
	Data        []byte   `json:"data"`
	Tags        []string `json:"tags,omitempty"`
}
