package strain

import "fmt"

// TimeSeries is a uniformly sampled stretch of detector strain.
// Epoch is the GPS time of the first sample.
type TimeSeries struct {
	Samples    []float64
	Epoch      float64
	SampleRate float64
}

// Duration returns the length of the series in seconds.
func (ts TimeSeries) Duration() float64 {
	return float64(len(ts.Samples)) / ts.SampleRate
}

// EndTime returns the GPS time just past the last sample.
func (ts TimeSeries) EndTime() float64 {
	return ts.Epoch + ts.Duration()
}

// Slice returns the sub-series covering [start, end) in GPS seconds.
// The requested range must lie within the series.
func (ts TimeSeries) Slice(start, end float64) (TimeSeries, error) {
	if start < ts.Epoch || end > ts.EndTime() || end <= start {
		return TimeSeries{}, fmt.Errorf("strain: slice [%f, %f) outside series [%f, %f)",
			start, end, ts.Epoch, ts.EndTime())
	}
	i := int((start - ts.Epoch) * ts.SampleRate)
	j := int((end - ts.Epoch) * ts.SampleRate)
	if j > len(ts.Samples) {
		j = len(ts.Samples)
	}
	return TimeSeries{
		Samples:    ts.Samples[i:j],
		Epoch:      ts.Epoch + float64(i)/ts.SampleRate,
		SampleRate: ts.SampleRate,
	}, nil
}

// PSD is a one-sided power spectral density estimate on a regular frequency
// grid starting at DC. Values[k] is the power at frequency k*DeltaF.
type PSD struct {
	Values []float64
	DeltaF float64
}

// Validate checks the PSD source contract: strictly positive values at every
// non-DC frequency. The DC bin is never used by the filters and may be zero.
func (p PSD) Validate() error {
	if len(p.Values) < 2 {
		return fmt.Errorf("strain: psd has %d bins, need at least 2", len(p.Values))
	}
	if p.DeltaF <= 0 {
		return fmt.Errorf("strain: psd delta_f must be positive, got %g", p.DeltaF)
	}
	for k, v := range p.Values {
		if k == 0 {
			continue
		}
		if v <= 0 {
			return fmt.Errorf("strain: psd bin %d (%.3f Hz) is %g, must be positive",
				k, float64(k)*p.DeltaF, v)
		}
	}
	return nil
}
