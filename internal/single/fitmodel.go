package single

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Seconds in a Julian year, the convention for quoting IFAR.
const secondsPerYear = 31557600.0

// FitModel holds the fitted noise rate model for one detector: trigger rates
// and exponential-tail fit coefficients over irregular template-duration
// bins. Loaded once at startup and read-only thereafter.
type FitModel struct {
	// DurationBinEdges has one more element than the rate arrays and is
	// strictly increasing. Bins are right-open: [edge[i], edge[i+1]).
	DurationBinEdges []float64 `json:"duration_bin_edges"`

	// BinRate is the noise-trigger rate per bin, per second of live time.
	BinRate []float64 `json:"bin_rate"`

	// BinFitCoeff is the exponential-tail decay index per bin.
	BinFitCoeff []float64 `json:"bin_fit_coeff"`

	// FitThreshold is the newsnr value above which the tails were fitted.
	FitThreshold float64 `json:"fit_threshold"`
}

// fitFile is the on-disk schema: a versioned file carrying one model per
// detector plus a shared fit threshold.
type fitFile struct {
	Version      string                     `json:"version"`
	FitThreshold float64                    `json:"fit_threshold"`
	Detectors    map[string]json.RawMessage `json:"detectors"`
}

// LoadFitModel reads the noise fit model for one detector from a versioned
// JSON file. Any schema violation is returned as an error; callers treat
// this as fatal at startup.
func LoadFitModel(path, detector string) (*FitModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("single: read fit file: %w", err)
	}
	var f fitFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("single: parse fit file %s: %w", path, err)
	}
	raw, ok := f.Detectors[detector]
	if !ok {
		return nil, fmt.Errorf("single: fit file %s has no entry for detector %s", path, detector)
	}
	var m FitModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("single: parse fit model for %s: %w", detector, err)
	}
	m.FitThreshold = f.FitThreshold
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("single: fit model for %s: %w", detector, err)
	}
	return &m, nil
}

func (m *FitModel) validate() error {
	if len(m.DurationBinEdges) < 2 {
		return fmt.Errorf("need at least 2 duration bin edges, got %d", len(m.DurationBinEdges))
	}
	if !sort.Float64sAreSorted(m.DurationBinEdges) {
		return fmt.Errorf("duration bin edges are not sorted")
	}
	for i := 1; i < len(m.DurationBinEdges); i++ {
		if m.DurationBinEdges[i] == m.DurationBinEdges[i-1] {
			return fmt.Errorf("duplicate duration bin edge %g", m.DurationBinEdges[i])
		}
	}
	nbins := len(m.DurationBinEdges) - 1
	if len(m.BinRate) != nbins {
		return fmt.Errorf("bin_rate has %d entries, want %d", len(m.BinRate), nbins)
	}
	if len(m.BinFitCoeff) != nbins {
		return fmt.Errorf("bin_fit_coeff has %d entries, want %d", len(m.BinFitCoeff), nbins)
	}
	for i, r := range m.BinRate {
		if r < 0 {
			return fmt.Errorf("bin_rate[%d] = %g is negative", i, r)
		}
	}
	if m.FitThreshold <= 0 {
		return fmt.Errorf("fit_threshold must be positive, got %g", m.FitThreshold)
	}
	return nil
}

// binIndex locates a template duration in the right-open bins, returning
// false when the duration falls outside the fit's validity range.
func (m *FitModel) binIndex(duration float64) (int, bool) {
	edges := m.DurationBinEdges
	if duration < edges[0] || duration >= edges[len(edges)-1] {
		return 0, false
	}
	// Last edge <= duration.
	i := sort.SearchFloat64s(edges, duration)
	if i == len(edges) || edges[i] != duration {
		i--
	}
	return i, true
}

// IFARYears evaluates the model at the given statistic and duration,
// returning the inverse false-alarm rate in years. The second return is
// false when the duration lies outside the fitted bins or the extrapolated
// rate vanishes.
//
// The per-bin rate is scaled down the exponential tail from the fit
// threshold to the candidate's newsnr, then a trials factor of the number of
// duration bins is applied before inverting.
func (m *FitModel) IFARYears(newsnr, duration float64) (float64, bool) {
	bin, ok := m.binIndex(duration)
	if !ok {
		return 0, false
	}
	rate := m.BinRate[bin] * cumExpTail(newsnr, m.BinFitCoeff[bin], m.FitThreshold)
	rate /= float64(len(m.BinRate))
	if rate <= 0 {
		return 0, false
	}
	return 1 / rate / secondsPerYear, true
}

// cumExpTail is the cumulative count fraction of an exponential fit above
// the given statistic: exp(-coeff * (stat - threshold)).
func cumExpTail(stat, coeff, threshold float64) float64 {
	return math.Exp(-coeff * (stat - threshold))
}
