package pastro

import (
	"fmt"
	"math"
)

// AstroProbability is the fused astrophysical-origin estimate for one
// candidate. Classes holds the per-class probabilities already scaled by
// PAstro, so {Classes... , PTerrestrial} partitions unity.
type AstroProbability struct {
	PAstro       float64            `json:"p_astro"`
	PTerrestrial float64            `json:"p_terrestrial"`
	Classes      map[string]float64 `json:"source_class_probabilities"`
}

// Fuse combines the mass-based class partition with the rate-based p_astro.
// The multiplication assumes "is it astrophysical" and "which class is it"
// are independent.
func Fuse(classProbs map[string]float64, pAstro float64) AstroProbability {
	out := AstroProbability{
		PAstro:       pAstro,
		PTerrestrial: 1 - pAstro,
		Classes:      make(map[string]float64, len(classProbs)),
	}
	for class, p := range classProbs {
		out.Classes[class] = p * pAstro
	}
	return out
}

// Validate checks that every probability is a finite value in [0, 1] and
// that the full partition {classes, terrestrial} sums to 1.
func (a AstroProbability) Validate() error {
	if math.IsNaN(a.PAstro) || a.PAstro < 0 || a.PAstro > 1 {
		return fmt.Errorf("pastro: p_astro %g outside [0, 1]", a.PAstro)
	}
	if math.IsNaN(a.PTerrestrial) || a.PTerrestrial < 0 || a.PTerrestrial > 1 {
		return fmt.Errorf("pastro: p_terrestrial %g outside [0, 1]", a.PTerrestrial)
	}
	sum := a.PTerrestrial
	for class, p := range a.Classes {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("pastro: class %s probability %g outside [0, 1]", class, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("pastro: probability partition sums to %.12f, want 1", sum)
	}
	return nil
}
