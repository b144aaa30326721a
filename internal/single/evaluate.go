package single

import (
	"fmt"
	"log/slog"
)

// Thresholds is the immutable per-detector threshold configuration.
type Thresholds struct {
	NewSNR       float64
	ReducedChisq float64
	Duration     float64
}

// Evaluator applies the single-detector significance decision for one
// detector. Its configuration is immutable after construction; threshold
// changes are applied by swapping in a new Evaluator between epochs.
type Evaluator struct {
	detector   string
	thresholds Thresholds

	// Exactly one of fit or fixedIFAR is active.
	fit       *FitModel
	fixedIFAR float64
}

// Result is the outcome of a successful evaluation. It is created once per
// candidate and never mutated.
type Result struct {
	Detector          string  `json:"detector"`
	Trigger           Trigger `json:"trigger"`
	NewSNR            float64 `json:"newsnr"`
	IFARYears         float64 `json:"ifar_years"`
	HardwareInjection bool    `json:"hardware_injection"`
}

// NewEvaluator builds an Evaluator using a fitted noise model for IFAR
// estimation. A nil fit model is a configuration error.
func NewEvaluator(detector string, th Thresholds, fit *FitModel) (*Evaluator, error) {
	if fit == nil {
		return nil, fmt.Errorf("single: %s: fit-based ifar requested but no fit model loaded", detector)
	}
	return &Evaluator{detector: detector, thresholds: th, fit: fit}, nil
}

// NewFixedIFAREvaluator builds an Evaluator that assigns every passing
// candidate the same IFAR, bypassing the noise fit.
func NewFixedIFAREvaluator(detector string, th Thresholds, ifarYears float64) (*Evaluator, error) {
	if ifarYears <= 0 {
		return nil, fmt.Errorf("single: %s: fixed ifar must be positive, got %g", detector, ifarYears)
	}
	return &Evaluator{detector: detector, thresholds: th, fixedIFAR: ifarYears}, nil
}

// Detector returns the detector this evaluator is configured for.
func (e *Evaluator) Detector() string { return e.detector }

// Thresholds returns the active threshold configuration.
func (e *Evaluator) Thresholds() Thresholds { return e.thresholds }

// ranked pairs a surviving trigger with its ranking statistic.
type ranked struct {
	trig   Trigger
	newsnr float64
}

// Evaluate runs the staged threshold cascade over one epoch's triggers for
// this detector and returns the winning candidate, or ok=false when no
// trigger survives every stage.
//
// Stages, each returning an explicit empty/non-empty result:
//
//	 1. duration and reduced-chisq cuts
//	 2. newsnr computation
//	 3. newsnr cut
//	 4. arg-max clustering (first in input order wins ties)
//	 5. re-verification of all three thresholds on the winner
//	 6. IFAR assignment, which itself fails the candidate when the
//	    template duration is outside the fit's validity
//
// hwInjection flags a candidate inside a known hardware-injection window;
// it is informational and does not affect the IFAR.
func (e *Evaluator) Evaluate(triggers []Trigger, hwInjection bool) (*Result, bool) {
	if len(triggers) == 0 {
		return nil, false
	}

	// Stage 1: duration and chisq cuts.
	var survivors []ranked
	for _, tr := range triggers {
		if tr.TemplateDuration > e.thresholds.Duration &&
			tr.ReducedChisq < e.thresholds.ReducedChisq {
			survivors = append(survivors, ranked{trig: tr})
		}
	}
	if len(survivors) == 0 {
		return nil, false
	}

	// Stages 2+3: rank by newsnr, cut below threshold.
	passed := survivors[:0]
	for _, s := range survivors {
		s.newsnr = NewSNR(s.trig.SNR, s.trig.ReducedChisq)
		if s.newsnr > e.thresholds.NewSNR {
			passed = append(passed, s)
		}
	}
	if len(passed) == 0 {
		return nil, false
	}

	// Stage 4: cluster by taking the single loudest trigger. This stands in
	// for time clustering within the decision window; strictly-greater
	// comparison keeps the first trigger in input order on ties.
	best := passed[0]
	for _, s := range passed[1:] {
		if s.newsnr > best.newsnr {
			best = s
		}
	}

	// Stage 5: re-verify the winner against all three thresholds.
	if !(best.newsnr > e.thresholds.NewSNR &&
		best.trig.TemplateDuration > e.thresholds.Duration &&
		best.trig.ReducedChisq < e.thresholds.ReducedChisq) {
		return nil, false
	}

	// Stage 6: IFAR.
	ifar := e.fixedIFAR
	if e.fit != nil {
		var ok bool
		ifar, ok = e.fit.IFARYears(best.newsnr, best.trig.TemplateDuration)
		if !ok {
			slog.Debug("single: duration outside fit validity, no candidate",
				"detector", e.detector,
				"duration", best.trig.TemplateDuration)
			return nil, false
		}
	}

	return &Result{
		Detector:          e.detector,
		Trigger:           best.trig,
		NewSNR:            best.newsnr,
		IFARYears:         ifar,
		HardwareInjection: hwInjection,
	}, true
}

// ValidateBatch checks the trigger source contract for one detector's epoch
// batch: end times monotonically non-decreasing and no duplicate end times.
func ValidateBatch(detector string, triggers []Trigger) error {
	for i, tr := range triggers {
		if tr.Detector != detector {
			return fmt.Errorf("single: batch for %s contains trigger for %s", detector, tr.Detector)
		}
		if tr.SNR < 0 || tr.ReducedChisq < 0 || tr.TemplateDuration <= 0 {
			return fmt.Errorf("single: trigger %d for %s has out-of-range fields", i, detector)
		}
		if i == 0 {
			continue
		}
		if tr.EndTime < triggers[i-1].EndTime {
			return fmt.Errorf("single: end times for %s not monotonic at index %d", detector, i)
		}
		if tr.EndTime == triggers[i-1].EndTime {
			return fmt.Errorf("single: duplicate end time %.6f for %s", tr.EndTime, detector)
		}
	}
	return nil
}
