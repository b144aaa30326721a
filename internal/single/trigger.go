package single

import "math"

// Trigger is one per-detector candidate event emitted by upstream matched
// filtering. Triggers are immutable once received.
type Trigger struct {
	Detector         string  `json:"detector"`
	EndTime          float64 `json:"end_time"` // GPS seconds
	SNR              float64 `json:"snr"`
	ReducedChisq     float64 `json:"reduced_chisq"`
	TemplateDuration float64 `json:"template_duration"`
	TemplateID       int64   `json:"template_id"`

	// Template amplitude normalization; sqrt(SigmaSq)/SNR gives the
	// effective distance to the source.
	SigmaSq float64 `json:"sigma_sq"`

	// Component masses and aligned spins of the matched template, carried
	// through for source classification.
	Mass1  float64 `json:"mass1"`
	Mass2  float64 `json:"mass2"`
	Spin1z float64 `json:"spin1z"`
	Spin2z float64 `json:"spin2z"`
}

// EffectiveDistance returns the template-normalized distance estimate, or 0
// when the trigger carries no sigma-sq.
func (t Trigger) EffectiveDistance() float64 {
	if t.SigmaSq <= 0 || t.SNR <= 0 {
		return 0
	}
	return math.Sqrt(t.SigmaSq) / t.SNR
}

// Mchirp returns the chirp mass of the matched template.
func (t Trigger) Mchirp() float64 {
	m := t.Mass1 + t.Mass2
	if m <= 0 {
		return 0
	}
	return math.Pow(t.Mass1*t.Mass2, 0.6) / math.Pow(m, 0.2)
}

// NewSNR is the re-weighted SNR ranking statistic: the SNR is penalized when
// the reduced chi-square indicates a poor match to the template, and left
// unchanged at or below the nominal value of 1.
func NewSNR(snr, reducedChisq float64) float64 {
	if reducedChisq > 1 {
		return snr * math.Pow((1+math.Pow(reducedChisq, 3))/2, -1.0/6.0)
	}
	return snr
}
