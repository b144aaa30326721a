package pastro

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// defaultBgFac is the exponential index of the single-detector noise tail,
// b(rho) ~ k exp(-alpha*rho), which relates the noise rate density to the
// FAR as b(rho) = alpha * FAR(rho). Fits typically yield alpha ~ 6.
const defaultBgFac = 6.0

// RateModel is the static signal/noise rate model used for the rate-based
// p_astro estimate: an astrophysical signal rate per template-duration bin
// and the template-bank population split over the same bins, relative to a
// reference network sensitivity. Loaded once at startup, read-only after.
type RateModel struct {
	Version string `json:"version"`

	// BinEdges partitions template duration into right-open bins.
	BinEdges []float64 `json:"bin_edges"`

	// SignalPerYear is the expected astrophysical signal rate per bin, per
	// year, at the reference sensitivity.
	SignalPerYear []float64 `json:"sig_per_yr_binned"`

	// TemplateCounts is the number of bank templates per bin.
	TemplateCounts []float64 `json:"template_counts"`

	// RefBNSHorizon is the reference network BNS horizon distance (Mpc).
	RefBNSHorizon float64 `json:"ref_bns_horizon"`

	// NetSNRThreshold is the network SNR above which the analytic signal
	// distribution applies.
	NetSNRThreshold float64 `json:"netsnr_thresh"`

	// BgFac overrides the default noise tail index when non-zero.
	BgFac float64 `json:"bg_fac"`

	totalTemplates float64
}

// LoadRateModel reads and schema-checks a rate model file. Errors are fatal
// at startup: the search must not run with a malformed rate model.
func LoadRateModel(path string) (*RateModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pastro: read rate model: %w", err)
	}
	var m RateModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pastro: parse rate model %s: %w", path, err)
	}
	if err := m.init(); err != nil {
		return nil, fmt.Errorf("pastro: rate model %s: %w", path, err)
	}
	return &m, nil
}

func (m *RateModel) init() error {
	if len(m.BinEdges) < 2 {
		return fmt.Errorf("need at least 2 bin edges, got %d", len(m.BinEdges))
	}
	if !sort.Float64sAreSorted(m.BinEdges) {
		return fmt.Errorf("bin edges are not sorted")
	}
	nbins := len(m.BinEdges) - 1
	if len(m.SignalPerYear) != nbins {
		return fmt.Errorf("sig_per_yr_binned has %d entries, want %d", len(m.SignalPerYear), nbins)
	}
	if len(m.TemplateCounts) != nbins {
		return fmt.Errorf("template_counts has %d entries, want %d", len(m.TemplateCounts), nbins)
	}
	if m.RefBNSHorizon <= 0 {
		return fmt.Errorf("ref_bns_horizon must be positive, got %g", m.RefBNSHorizon)
	}
	if m.NetSNRThreshold <= 0 {
		return fmt.Errorf("netsnr_thresh must be positive, got %g", m.NetSNRThreshold)
	}
	if m.BgFac == 0 {
		m.BgFac = defaultBgFac
	}
	m.totalTemplates = 0
	for i, c := range m.TemplateCounts {
		if c < 0 {
			return fmt.Errorf("template_counts[%d] = %g is negative", i, c)
		}
		m.totalTemplates += c
	}
	if m.totalTemplates == 0 {
		return fmt.Errorf("template_counts sums to zero")
	}
	return nil
}

// CandidateInput carries the trigger properties needed for the rate-based
// estimate.
type CandidateInput struct {
	// BinParam is the value binned by the model, the template duration.
	BinParam float64

	// NetworkSNR is the quadrature-combined SNR over triggered detectors.
	NetworkSNR float64

	// FARPerYear is the candidate's combined false-alarm rate, per year.
	FARPerYear float64

	// Triggered lists the detectors with SNR above threshold. The
	// rate-based model is calibrated for one- and two-detector candidates
	// only.
	Triggered []string
}

// PAstro computes the probability that the candidate is astrophysical from
// the signal and noise rate densities at its network SNR.
//
// horizons maps each sensitive detector to its BNS horizon distance; the
// signal rate is rescaled by the cube of the combined horizon relative to
// the reference, since the accessible volume grows with distance cubed.
//
// Candidates triggered in three or more detectors are rejected: the model is
// calibrated for one- and two-detector candidates only.
func (m *RateModel) PAstro(in CandidateInput, horizons map[string]float64) (float64, error) {
	if len(in.Triggered) >= 3 {
		return 0, fmt.Errorf("pastro: rate model does not support %d triggered detectors", len(in.Triggered))
	}
	if len(horizons) == 0 {
		return 0, fmt.Errorf("pastro: no horizon distances provided")
	}

	bin, ok := m.binIndex(in.BinParam)
	if !ok {
		return 0, fmt.Errorf("pastro: bin parameter %g outside model bins [%g, %g)",
			in.BinParam, m.BinEdges[0], m.BinEdges[len(m.BinEdges)-1])
	}

	// Noise rate density per year per unit SNR, scaled by the fraction of
	// the template bank living in this bin.
	dnoise := m.BgFac * in.FARPerYear * m.TemplateCounts[bin] / m.totalTemplates

	// Analytic SNR^-4 signal distribution above threshold, scaled by the
	// per-bin signal rate and the sensitivity rescaling.
	dsig := signalPDF(in.NetworkSNR, m.NetSNRThreshold)
	dsig *= m.SignalPerYear[bin]
	dsig *= horizonRescale(horizons, m.RefBNSHorizon)

	if dsig+dnoise == 0 {
		return 0, nil
	}
	return dsig / (dsig + dnoise), nil
}

func (m *RateModel) binIndex(v float64) (int, bool) {
	edges := m.BinEdges
	if v < edges[0] || v >= edges[len(edges)-1] {
		return 0, false
	}
	i := sort.SearchFloat64s(edges, v)
	if i == len(edges) || edges[i] != v {
		i--
	}
	return i, true
}

// signalPDF is the normalized SNR^-4 density above thresh: 3*t^3 / rho^4.
func signalPDF(netsnr, thresh float64) float64 {
	return 3 * math.Pow(thresh, 3) / math.Pow(netsnr, 4)
}

// horizonRescale combines per-detector horizons in quadrature, analogous to
// network SNR, and returns the cubed ratio to the reference horizon.
func horizonRescale(horizons map[string]float64, ref float64) float64 {
	var sumsq float64
	for _, h := range horizons {
		sumsq += h * h
	}
	return math.Pow(math.Sqrt(sumsq)/ref, 3)
}
