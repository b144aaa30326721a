package psdvar

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/strainline/strainline/internal/strain"
)

// BuildFilter constructs the real-valued convolution kernel used to measure
// noise variation. The kernel combines three frequency-domain weightings:
//
//  1. a hann-windowed FIR band-pass between lowFreq and highFreq,
//  2. an f^(-7/6) weighting approximating the spectral shape of an
//     inspiral signal,
//  3. a 1/sqrt(PSD) whitening weighting.
//
// The result is normalized so that convolving it with unit-variance white
// noise yields unit-variance output. duration is the PSD estimation length in
// seconds; the PSD must be sampled at delta_f = 1/duration up to the Nyquist
// frequency, i.e. hold duration*sampleRate/2 + 1 bins.
//
// The kernel must be rebuilt whenever the PSD estimate changes.
func BuildFilter(psd strain.PSD, duration float64, sampleRate int, lowFreq, highFreq float64) ([]float64, error) {
	if err := psd.Validate(); err != nil {
		return nil, err
	}
	n := int(duration * float64(sampleRate))
	if n <= 0 {
		return nil, fmt.Errorf("psdvar: non-positive kernel length from duration %g", duration)
	}
	if want := n/2 + 1; len(psd.Values) != want {
		return nil, fmt.Errorf("psdvar: psd has %d bins, want %d for duration %gs at %d Hz",
			len(psd.Values), want, duration, sampleRate)
	}
	if lowFreq <= 0 || highFreq <= lowFreq || highFreq > float64(sampleRate)/2 {
		return nil, fmt.Errorf("psdvar: invalid band [%g, %g] Hz at sample rate %d",
			lowFreq, highFreq, sampleRate)
	}

	// Band-pass FIR kernel, then zero-pad (or truncate) to the PSD duration
	// and take the magnitude of its frequency response to discard the phase.
	bp := firBandpass(4*sampleRate, lowFreq, highFreq, float64(sampleRate))
	padded := make([]float64, n)
	copy(padded, bp)

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, padded)
	bandMag := make([]float64, len(coeff))
	for k, c := range coeff {
		bandMag[k] = cmplxAbs(c)
	}

	// Signal-shape and whitening weights on the PSD frequency grid.
	fweight := make([]float64, len(psd.Values))
	for k := 1; k < len(fweight); k++ {
		f := float64(k) * psd.DeltaF
		fweight[k] = math.Pow(f, -7.0/6.0) * bandMag[k] / math.Sqrt(psd.Values[k])
	}

	// Normalize so unit-variance white noise stays unit variance.
	var sumsq float64
	for _, w := range fweight {
		sumsq += w * w
	}
	norm := math.Pow(sumsq/float64(len(fweight)-1), -0.5)
	for k := range fweight {
		fweight[k] *= norm
	}

	whiten := math.Sqrt(2 / float64(sampleRate))
	full := make([]complex128, len(coeff))
	for k := 1; k < len(full); k++ {
		full[k] = complex(fweight[k]*whiten/math.Sqrt(psd.Values[k]), 0)
	}

	// Back to the time domain; gonum's inverse is unnormalized.
	kernel := fft.Sequence(nil, full)
	for i := range kernel {
		kernel[i] /= float64(n)
	}

	// Center the impulse response and taper the edges.
	kernel = roll(kernel, n/2)
	for i := range kernel {
		kernel[i] *= hann(i, n)
	}
	return kernel, nil
}

// firBandpass returns a hann-windowed sinc band-pass FIR kernel with numtaps
// taps and cutoff frequencies f1 < f2 in Hz.
func firBandpass(numtaps int, f1, f2, sampleRate float64) []float64 {
	w1 := f1 / sampleRate
	w2 := f2 / sampleRate
	center := float64(numtaps-1) / 2
	h := make([]float64, numtaps)
	for k := range h {
		m := float64(k) - center
		h[k] = (2*w2*sinc(2*w2*m) - 2*w1*sinc(2*w1*m)) * hann(k, numtaps)
	}
	// Scale for unit response at the band midpoint.
	fc := (w1 + w2) / 2
	var re, im float64
	for k, v := range h {
		re += v * math.Cos(2*math.Pi*fc*float64(k))
		im -= v * math.Sin(2*math.Pi*fc*float64(k))
	}
	if s := math.Hypot(re, im); s > 0 {
		for k := range h {
			h[k] /= s
		}
	}
	return h
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func hann(i, n int) float64 {
	if n <= 1 {
		return 1
	}
	return 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
}

// roll rotates s right by k positions, like numpy.roll.
func roll(s []float64, k int) []float64 {
	n := len(s)
	if n == 0 {
		return s
	}
	k = ((k % n) + n) % n
	out := make([]float64, n)
	copy(out[k:], s[:n-k])
	copy(out[:k], s[n-k:])
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
