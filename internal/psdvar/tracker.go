package psdvar

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/strainline/strainline/internal/strain"
)

// snapshot bundles a filter with the variation series computed from it, so a
// reader never observes a series produced by one PSD against the kernel of
// another.
type snapshot struct {
	filter     []float64
	psdVersion uint64
	series     Series
}

// Tracker maintains the noise-variation state for one detector.
//
// It follows single-writer, multi-reader snapshot semantics: Rebuild and
// Ingest must be called from one goroutine (the ingest loop), while Value may
// be called concurrently from candidate evaluation. Readers observe either
// the old or the new state atomically, never a partial update.
type Tracker struct {
	Detector string

	duration   float64
	sampleRate int
	lowFreq    float64
	highFreq   float64
	opts       Options

	cur atomic.Pointer[snapshot]
}

// TrackerConfig holds the static per-detector filter parameters.
type TrackerConfig struct {
	Detector    string
	PSDDuration float64 // seconds of PSD estimation, sets the kernel length
	SampleRate  int
	LowFreq     float64
	HighFreq    float64
	Options     Options
}

// NewTracker creates a Tracker. No filter exists until the first Rebuild;
// until then Value returns the neutral 1.0 for every query.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		Detector:   cfg.Detector,
		duration:   cfg.PSDDuration,
		sampleRate: cfg.SampleRate,
		lowFreq:    cfg.LowFreq,
		highFreq:   cfg.HighFreq,
		opts:       cfg.Options.withDefaults(),
	}
}

// Rebuild constructs a fresh filter from a new PSD estimate and publishes it.
// The previous variation series is dropped: it was measured against the old
// spectrum and is not comparable.
func (t *Tracker) Rebuild(psd strain.PSD) error {
	filt, err := BuildFilter(psd, t.duration, t.sampleRate, t.lowFreq, t.highFreq)
	if err != nil {
		return fmt.Errorf("psdvar: rebuild %s: %w", t.Detector, err)
	}
	var version uint64 = 1
	if prev := t.cur.Load(); prev != nil {
		version = prev.psdVersion + 1
	}
	t.cur.Store(&snapshot{filter: filt, psdVersion: version})
	slog.Info("psdvar: filter rebuilt", "detector", t.Detector, "psd_version", version)
	return nil
}

// Ingest computes the variation series for a new strain window against the
// current filter and publishes it atomically. Calling Ingest before any
// Rebuild is an error: there is no filter to convolve with.
func (t *Tracker) Ingest(ts strain.TimeSeries) error {
	cur := t.cur.Load()
	if cur == nil {
		return fmt.Errorf("psdvar: %s has no filter yet, awaiting first psd", t.Detector)
	}
	series, err := ComputeVariation(ts, cur.filter, t.opts)
	if err != nil {
		return fmt.Errorf("psdvar: ingest %s: %w", t.Detector, err)
	}
	t.cur.Store(&snapshot{filter: cur.filter, psdVersion: cur.psdVersion, series: series})
	return nil
}

// Value returns the variance ratio at GPS time t, or the neutral 1.0 when no
// coverage exists for that time.
func (t *Tracker) Value(at float64) float64 {
	cur := t.cur.Load()
	if cur == nil {
		return 1.0
	}
	return cur.series.At(at)
}

// PSDVersion reports the version of the filter currently in use, 0 when none
// has been built yet.
func (t *Tracker) PSDVersion() uint64 {
	cur := t.cur.Load()
	if cur == nil {
		return 0
	}
	return cur.psdVersion
}

// Latest returns the most recent variation sample, if any.
func (t *Tracker) Latest() (Sample, bool) {
	cur := t.cur.Load()
	if cur == nil || len(cur.series.Values) == 0 {
		return Sample{}, false
	}
	s := cur.series
	i := len(s.Values) - 1
	return Sample{
		Time:          s.Epoch + float64(i)*s.Stride,
		VarianceRatio: s.Values[i],
	}, true
}
