package candidate

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/strainline/strainline/internal/pastro"
	"github.com/strainline/strainline/internal/single"
)

// Packager builds immutable candidate records with a fixed provenance tag.
type Packager struct {
	searchVersion string
	now           func() time.Time
}

func NewPackager(searchVersion string) *Packager {
	return &Packager{
		searchVersion: searchVersion,
		now:           time.Now,
	}
}

// Package assembles one candidate from the per-detector evaluation results,
// the fused astrophysical probability and the noise snapshots in effect at
// evaluation time. Every contributing detector must carry a valid snapshot;
// any missing or malformed input fails the whole call and no record is
// produced.
//
// The combined IFAR is the smallest per-detector IFAR. A dedicated
// coincidence ranking would replace it for multi-detector candidates; none
// is wired here.
func (p *Packager) Package(results []single.Result, astro *pastro.AstroProbability, noise map[string]NoiseSnapshot) (*Record, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("candidate: no evaluation results to package")
	}
	if astro != nil {
		if err := astro.Validate(); err != nil {
			return nil, fmt.Errorf("candidate: %w", err)
		}
	}

	detectors := make(map[string]DetectorData, len(results))
	var (
		sumsqSNR float64
		sumEnd   float64
		minIFAR  = math.Inf(1)
		hwInject bool
	)
	for _, res := range results {
		det := res.Detector
		if det == "" {
			return nil, fmt.Errorf("candidate: result with empty detector name")
		}
		if _, dup := detectors[det]; dup {
			return nil, fmt.Errorf("candidate: duplicate result for detector %s", det)
		}
		snap, ok := noise[det]
		if !ok {
			return nil, fmt.Errorf("candidate: no noise snapshot for detector %s", det)
		}
		if err := snap.PSD.Validate(); err != nil {
			return nil, fmt.Errorf("candidate: detector %s: %w", det, err)
		}
		trig := res.Trigger
		if trig.SNR <= 0 {
			return nil, fmt.Errorf("candidate: detector %s: non-positive SNR %g", det, trig.SNR)
		}
		if trig.SigmaSq <= 0 {
			return nil, fmt.Errorf("candidate: detector %s: non-positive sigma_sq %g", det, trig.SigmaSq)
		}
		if trig.EndTime <= 0 {
			return nil, fmt.Errorf("candidate: detector %s: non-positive end time %g", det, trig.EndTime)
		}
		if res.IFARYears <= 0 {
			return nil, fmt.Errorf("candidate: detector %s: non-positive IFAR %g", det, res.IFARYears)
		}

		detectors[det] = DetectorData{
			Trigger:           trig,
			NewSNR:            res.NewSNR,
			IFARYears:         res.IFARYears,
			EffectiveDistance: trig.EffectiveDistance(),
			Noise:             snap,
		}
		sumsqSNR += trig.SNR * trig.SNR
		sumEnd += trig.EndTime
		if res.IFARYears < minIFAR {
			minIFAR = res.IFARYears
		}
		hwInject = hwInject || res.HardwareInjection
	}

	return &Record{
		ID:                uuid.NewString(),
		SearchVersion:     p.searchVersion,
		CreatedAt:         p.now().UTC(),
		Detectors:         detectors,
		NetworkSNR:        math.Sqrt(sumsqSNR),
		MergerTime:        sumEnd / float64(len(results)),
		IFARYears:         minIFAR,
		FAR:               1 / (secondsPerYear * minIFAR),
		Astro:             astro,
		HardwareInjection: hwInject,
	}, nil
}
