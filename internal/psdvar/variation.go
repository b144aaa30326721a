package psdvar

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/strainline/strainline/internal/strain"
)

// Default analysis parameters. Strides are in seconds.
const (
	DefaultShortStride = 0.25
	DefaultStride      = 1.0
	DefaultTrim        = 2.0
)

// Options controls the variation computation.
type Options struct {
	// ShortStride is the sub-window over which mean-square power is first
	// computed; outlier suppression operates on these sub-windows.
	ShortStride float64

	// Stride is the cadence of the output series, one sample per Stride
	// seconds.
	Stride float64

	// Trim is the number of seconds discarded from each end of the
	// convolution output to remove edge artifacts.
	Trim float64
}

func (o Options) withDefaults() Options {
	if o.ShortStride <= 0 {
		o.ShortStride = DefaultShortStride
	}
	if o.Stride <= 0 {
		o.Stride = DefaultStride
	}
	if o.Trim <= 0 {
		o.Trim = DefaultTrim
	}
	return o
}

// Sample is one noise-variation measurement: the ratio of the short-timescale
// noise variance to the long-term estimate. 1.0 is nominal.
type Sample struct {
	Time          float64 `json:"time"`
	VarianceRatio float64 `json:"variance_ratio"`
}

// Series is a regularly spaced sequence of variance-ratio values, one per
// stride second, starting at Epoch.
type Series struct {
	Epoch  float64
	Stride float64
	Values []float64
}

// At returns the variance ratio at GPS time t by linear interpolation.
// Queries outside the tracked range return the neutral value 1.0: missing
// coverage must never penalize a candidate.
func (s Series) At(t float64) float64 {
	if len(s.Values) == 0 {
		return 1.0
	}
	x := (t - s.Epoch) / s.Stride
	if x < 0 || x > float64(len(s.Values)-1) {
		return 1.0
	}
	i := int(x)
	if i >= len(s.Values)-1 {
		return s.Values[len(s.Values)-1]
	}
	frac := x - float64(i)
	return s.Values[i]*(1-frac) + s.Values[i+1]*frac
}

// ComputeVariation convolves a strain window with a filter from BuildFilter
// and reduces the output to one variance-ratio value per stride second.
//
// The input window must cover at least 2*Trim + Stride seconds; shorter
// windows are rejected rather than producing truncated output.
func ComputeVariation(ts strain.TimeSeries, filter []float64, opts Options) (Series, error) {
	opts = opts.withDefaults()
	sr := int(ts.SampleRate)
	if sr <= 0 {
		return Series{}, fmt.Errorf("psdvar: non-positive sample rate %g", ts.SampleRate)
	}
	minDur := 2*opts.Trim + opts.Stride
	if ts.Duration() < minDur {
		return Series{}, fmt.Errorf("psdvar: window of %.2fs too short, need at least %.2fs",
			ts.Duration(), minDur)
	}

	w := fftConvolveSame(ts.Samples, filter)

	// Drop the edges contaminated by convolution wrap-around.
	trim := int(opts.Trim * float64(sr))
	w = w[trim : len(w)-trim]

	shortN := int(opts.ShortStride * float64(sr))
	if shortN <= 0 {
		return Series{}, fmt.Errorf("psdvar: short stride %.3fs below one sample", opts.ShortStride)
	}
	shortMS := meanSquare(w, shortN)
	suppressOutliers(shortMS)

	perStride := int(opts.Stride/opts.ShortStride + 0.5)
	if perStride < 1 {
		perStride = 1
	}
	nOut := len(shortMS) / perStride
	if nOut == 0 {
		return Series{}, fmt.Errorf("psdvar: window yields no complete stride")
	}
	values := make([]float64, nOut)
	for i := 0; i < nOut; i++ {
		var sum float64
		for j := i * perStride; j < (i+1)*perStride; j++ {
			sum += shortMS[j]
		}
		values[i] = sum / float64(perStride)
	}

	return Series{
		Epoch:  ts.Epoch + opts.Trim,
		Stride: opts.Stride,
		Values: values,
	}, nil
}

// meanSquare reduces data to the mean of squares over consecutive blocks of
// blockLen samples. A trailing partial block is discarded.
func meanSquare(data []float64, blockLen int) []float64 {
	n := len(data) / blockLen
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, v := range data[i*blockLen : (i+1)*blockLen] {
			sum += v * v
		}
		out[i] = sum / float64(blockLen)
	}
	return out
}

// suppressOutliers replaces, in place, every interior value exceeding twice
// the average of its two neighbors with that average. The comparison uses the
// original values throughout: this is a single pass, not an iteration to
// convergence, and the first and last elements are never modified.
func suppressOutliers(ms []float64) {
	if len(ms) < 3 {
		return
	}
	ave := make([]float64, len(ms)-2)
	for i := range ave {
		ave[i] = 0.5 * (ms[i] + ms[i+2])
	}
	for i, a := range ave {
		if ms[i+1] > 2*a {
			ms[i+1] = a
		}
	}
}

// fftConvolveSame computes the linear convolution of a and b and returns the
// central len(a) samples, matching scipy's fftconvolve mode="same".
func fftConvolveSame(a, b []float64) []float64 {
	n := len(a) + len(b) - 1
	fft := fourier.NewFFT(n)

	pa := make([]float64, n)
	copy(pa, a)
	pb := make([]float64, n)
	copy(pb, b)

	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for k := range ca {
		ca[k] *= cb[k]
	}
	full := fft.Sequence(nil, ca)
	inv := 1 / float64(n)
	for i := range full {
		full[i] *= inv
	}

	start := (len(b) - 1) / 2
	return full[start : start+len(a)]
}
