package pastro

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// Source class labels. The mass-gap classes GNS, GG and BHG are merged into
// MassGap unless the classifier is configured to keep them separate.
const (
	ClassBNS         = "bns"
	ClassGNS         = "gns"
	ClassNSBH        = "nsbh"
	ClassGG          = "gg"
	ClassBHG         = "bhg"
	ClassBBH         = "bbh"
	ClassMassGap     = "mass_gap"
	ClassTerrestrial = "terrestrial"
)

// quadNodes is the Gauss-Legendre order used for the area integrals; the
// m2(mchirp, m1) curves are smooth and this is far more than enough.
const quadNodes = 40

// MassLimits bounds the component-mass plane considered by the classifier.
type MassLimits struct {
	MaxM1 float64 // maximum primary mass
	MinM2 float64 // minimum secondary mass
}

// MassBoundaries places the class-separating cuts on the plane.
type MassBoundaries struct {
	NSMax  float64 // maximum neutron-star mass
	GapMax float64 // minimum black-hole mass; (NSMax, GapMax) is the mass gap
}

// Classifier computes source-class probabilities from a chirp-mass estimate.
// It is immutable and safe for concurrent use.
type Classifier struct {
	limits      MassLimits
	bounds      MassBoundaries
	separateGap bool
}

// NewClassifier validates the configured mass geometry. MinM2 < NSMax <
// GapMax < MaxM1 is required for the six regions to be well formed.
func NewClassifier(limits MassLimits, bounds MassBoundaries, separateGap bool) (*Classifier, error) {
	if !(limits.MinM2 > 0 && limits.MinM2 < bounds.NSMax &&
		bounds.NSMax < bounds.GapMax && bounds.GapMax < limits.MaxM1) {
		return nil, fmt.Errorf("pastro: mass geometry must satisfy 0 < min_m2 < ns_max < gap_max < max_m1, got min_m2=%g ns_max=%g gap_max=%g max_m1=%g",
			limits.MinM2, bounds.NSMax, bounds.GapMax, limits.MaxM1)
	}
	return &Classifier{limits: limits, bounds: bounds, separateGap: separateGap}, nil
}

// SourceMassFromDetector converts a detector-frame mass estimate and its
// uncertainty into the source frame given a redshift estimate.
func SourceMassFromDetector(z, deltaZ, mDet, deltaMDet float64) (float64, float64) {
	mSrc := mDet / (1 + z)
	deltaMSrc := mSrc * math.Sqrt(math.Pow(deltaMDet/mDet, 2)+math.Pow(deltaZ/(1+z), 2))
	return mSrc, deltaMSrc
}

// Probabilities returns the per-class probability partition for a
// detector-frame chirp-mass estimate with uncertainty, corrected to the
// source frame by the redshift estimate. The returned values are
// non-negative and sum to 1.
//
// When the central chirp mass exceeds the largest value achievable with both
// masses at the black-hole maximum (scaled back to the detector frame), the
// classification short-circuits to pure BBH.
func (c *Classifier) Probabilities(mchirpDet, deltaMchirpDet, z, deltaZ float64) map[string]float64 {
	mcMax := c.limits.MaxM1 / math.Pow(2, 0.2)
	if mchirpDet > mcMax*(1+z) {
		out := c.zeroAreas()
		out[ClassBBH] = 1.0
		return out
	}

	areas := c.areas(mchirpDet, deltaMchirpDet, z, deltaZ)
	var total float64
	for _, a := range areas {
		total += a
	}
	if total <= 0 {
		// Degenerate band (e.g. zero uncertainty): assign the class whose
		// support contains the equal-mass point of the central chirp mass.
		mc, _ := SourceMassFromDetector(z, deltaZ, mchirpDet, deltaMchirpDet)
		return c.pointClass(math.Pow(2, 0.2) * mc)
	}
	for k, a := range areas {
		areas[k] = a / total
	}
	return areas
}

// areas computes the raw area of the chirp-mass band inside each class
// region of the (m1, m2) plane.
func (c *Classifier) areas(mchirpDet, deltaMchirpDet, z, deltaZ float64) map[string]float64 {
	mc, deltaMc := SourceMassFromDetector(z, deltaZ, mchirpDet, deltaMchirpDet)
	mcb := mc + deltaMc // upper chirp-mass curve
	mcs := mc - deltaMc // lower chirp-mass curve

	m2Min := c.limits.MinM2
	m1Max := c.limits.MaxM1
	nsMax := c.bounds.NSMax
	gapMax := c.bounds.GapMax

	// The equal-mass line m1 = m2 intersects a chirp-mass curve at
	// m1 = m2 = 2^0.2 * mchirp.
	mib := math.Pow(2, 0.2) * mcb
	mis := math.Pow(2, 0.2) * mcs

	var abbh, abhg, agg, abns, agns, ansbh float64

	// BBH: both masses above the gap.
	if mib >= gapMax {
		limbBBH := math.Min(m1Max, mass2FromMchirpMass1(mcb, gapMax))
		intbBBH := intMchirp(mcb, mib, limbBBH)

		var lims1BBH, lims2BBH float64
		if mis < gapMax {
			lims1BBH = gapMax
			lims2BBH = lims1BBH
		} else {
			lims1BBH = mis
			lims2BBH = math.Min(m1Max, mass2FromMchirpMass1(mcs, gapMax))
		}
		intsBBH := intMchirp(mcs, lims1BBH, lims2BBH)

		limdiagBBH := math.Max(mass2FromMchirpMass1(mcs, lims1BBH), gapMax)
		intlineSupBBH := 0.5 * (limdiagBBH + mib) * (mib - lims1BBH)
		intlineInfBBH := (limbBBH - lims2BBH) * gapMax
		abbh = (intbBBH + intlineSupBBH) - (intsBBH + intlineInfBBH)
	}

	// BHG: primary above the gap, secondary inside it.
	if !(mass2FromMchirpMass1(mcb, gapMax) < nsMax || mass2FromMchirpMass1(mcs, m1Max) > gapMax) {
		var limb1BHG, limb2BHG float64
		if mass2FromMchirpMass1(mcb, m1Max) > gapMax {
			limb2BHG = m1Max
			limb1BHG = limb2BHG
		} else {
			limb2BHG = math.Min(m1Max, mass2FromMchirpMass1(mcb, nsMax))
			limb1BHG = math.Max(gapMax, mass2FromMchirpMass1(mcb, gapMax))
		}
		intbBHG := intMchirp(mcb, limb1BHG, limb2BHG)

		var lims1BHG, lims2BHG float64
		if mass2FromMchirpMass1(mcs, gapMax) < nsMax {
			lims2BHG = gapMax
			lims1BHG = lims2BHG
		} else {
			lims1BHG = math.Max(gapMax, mass2FromMchirpMass1(mcs, gapMax))
			lims2BHG = math.Min(m1Max, mass2FromMchirpMass1(mcs, nsMax))
		}
		intsBHG := intMchirp(mcs, lims1BHG, lims2BHG)

		intlineInfBHG := (limb2BHG - lims2BHG) * nsMax
		intlineSupBHG := (limb1BHG - lims1BHG) * gapMax
		abhg = (intbBHG + intlineSupBHG) - (intsBHG + intlineInfBHG)
	}

	// GG: both masses inside the gap.
	if !(mass2FromMchirpMass1(mcs, gapMax) > gapMax || mass2FromMchirpMass1(mcb, nsMax) < nsMax) {
		var limb1GG, limb2GG float64
		if mass2FromMchirpMass1(mcb, gapMax) > gapMax {
			limb2GG = gapMax
			limb1GG = limb2GG
		} else {
			limb1GG = mib
			limb2GG = math.Min(gapMax, mass2FromMchirpMass1(mcb, nsMax))
		}
		intbGG := intMchirp(mcb, limb1GG, limb2GG)

		var lims1GG, lims2GG float64
		if mass2FromMchirpMass1(mcs, nsMax) < nsMax {
			lims2GG = nsMax
			lims1GG = lims2GG
		} else {
			lims1GG = mis
			lims2GG = math.Min(gapMax, mass2FromMchirpMass1(mcs, nsMax))
		}
		intsGG := intMchirp(mcs, lims1GG, lims2GG)

		limdiag1GG := math.Max(mass2FromMchirpMass1(mcs, lims1GG), nsMax)
		limdiag2GG := math.Min(mass2FromMchirpMass1(mcb, limb1GG), gapMax)
		intlineSupGG := 0.5 * (limb1GG - lims1GG) * (limdiag1GG + limdiag2GG)
		intlineInfGG := (limb2GG - lims2GG) * nsMax
		agg = (intbGG + intlineSupGG) - (intsGG + intlineInfGG)
	}

	// BNS: both masses below the neutron-star maximum.
	if mass2FromMchirpMass1(mcs, nsMax) <= nsMax {
		var limb1BNS, limb2BNS float64
		if mass2FromMchirpMass1(mcb, nsMax) > nsMax {
			limb2BNS = nsMax
			limb1BNS = limb2BNS
		} else {
			limb2BNS = math.Min(nsMax, mass2FromMchirpMass1(mcb, m2Min))
			limb1BNS = mib
		}
		intbBNS := intMchirp(mcb, limb1BNS, limb2BNS)

		var lims1BNS, lims2BNS float64
		if mis < m2Min {
			lims2BNS = m2Min
			lims1BNS = lims2BNS
		} else {
			lims2BNS = math.Min(nsMax, mass2FromMchirpMass1(mcs, m2Min))
			lims1BNS = mis
		}
		intsBNS := intMchirp(mcs, lims1BNS, lims2BNS)

		intlineInfBNS := (limb2BNS - lims2BNS) * m2Min
		limdiag1BNS := math.Max(mass2FromMchirpMass1(mcs, lims1BNS), m2Min)
		limdiag2BNS := math.Min(mass2FromMchirpMass1(mcb, limb1BNS), nsMax)
		intlineSupBNS := 0.5 * (limdiag1BNS + limdiag2BNS) * (limb1BNS - lims1BNS)
		abns = (intbBNS + intlineSupBNS) - (intsBNS + intlineInfBNS)
	}

	// GNS: primary in the gap, secondary a neutron star.
	if !(mass2FromMchirpMass1(mcs, gapMax) > nsMax || mass2FromMchirpMass1(mcb, nsMax) < m2Min) {
		var limb1GNS, limb2GNS float64
		if mass2FromMchirpMass1(mcb, gapMax) > nsMax {
			limb2GNS = gapMax
			limb1GNS = limb2GNS
		} else {
			limb2GNS = math.Min(gapMax, mass2FromMchirpMass1(mcb, m2Min))
			limb1GNS = math.Max(nsMax, mass2FromMchirpMass1(mcb, nsMax))
		}
		intbGNS := intMchirp(mcb, limb1GNS, limb2GNS)

		var lims1GNS, lims2GNS float64
		if mass2FromMchirpMass1(mcs, nsMax) < m2Min {
			lims2GNS = nsMax
			lims1GNS = lims2GNS
		} else {
			lims1GNS = math.Max(nsMax, mass2FromMchirpMass1(mcs, nsMax))
			lims2GNS = math.Min(gapMax, mass2FromMchirpMass1(mcs, m2Min))
		}
		intsGNS := intMchirp(mcs, lims1GNS, lims2GNS)

		intlineInfGNS := (limb2GNS - lims2GNS) * m2Min
		intlineSupGNS := (limb1GNS - lims1GNS) * nsMax
		agns = (intbGNS + intlineSupGNS) - (intsGNS + intlineInfGNS)
	}

	// NSBH: primary above the gap, secondary a neutron star.
	if !(mass2FromMchirpMass1(mcs, m1Max) > nsMax || mass2FromMchirpMass1(mcb, gapMax) < m2Min) {
		var limb1NSBH, limb2NSBH float64
		if mass2FromMchirpMass1(mcb, m1Max) > nsMax {
			limb2NSBH = m1Max
			limb1NSBH = limb2NSBH
		} else {
			limb1NSBH = math.Max(gapMax, mass2FromMchirpMass1(mcb, nsMax))
			limb2NSBH = math.Min(m1Max, mass2FromMchirpMass1(mcb, m2Min))
		}
		intbNSBH := intMchirp(mcb, limb1NSBH, limb2NSBH)

		var lims1NSBH, lims2NSBH float64
		if mass2FromMchirpMass1(mcs, gapMax) < m2Min {
			lims1NSBH = gapMax
			lims2NSBH = lims1NSBH
		} else {
			lims1NSBH = math.Max(gapMax, mass2FromMchirpMass1(mcs, nsMax))
			lims2NSBH = math.Min(m1Max, mass2FromMchirpMass1(mcs, m2Min))
		}
		intsNSBH := intMchirp(mcs, lims1NSBH, lims2NSBH)

		intlineInfNSBH := (limb2NSBH - lims2NSBH) * m2Min
		intlineSupNSBH := (limb1NSBH - lims1NSBH) * nsMax
		ansbh = (intbNSBH + intlineSupNSBH) - (intsNSBH + intlineInfNSBH)
	}

	if c.separateGap {
		return map[string]float64{
			ClassBNS:  clampNonNeg(abns),
			ClassGNS:  clampNonNeg(agns),
			ClassNSBH: clampNonNeg(ansbh),
			ClassGG:   clampNonNeg(agg),
			ClassBHG:  clampNonNeg(abhg),
			ClassBBH:  clampNonNeg(abbh),
		}
	}
	return map[string]float64{
		ClassBNS:     clampNonNeg(abns),
		ClassNSBH:    clampNonNeg(ansbh),
		ClassBBH:     clampNonNeg(abbh),
		ClassMassGap: clampNonNeg(agns) + clampNonNeg(agg) + clampNonNeg(abhg),
	}
}

// zeroAreas returns a map with the configured class set, all zero.
func (c *Classifier) zeroAreas() map[string]float64 {
	if c.separateGap {
		return map[string]float64{
			ClassBNS: 0, ClassGNS: 0, ClassNSBH: 0,
			ClassGG: 0, ClassBHG: 0, ClassBBH: 0,
		}
	}
	return map[string]float64{
		ClassBNS: 0, ClassNSBH: 0, ClassBBH: 0, ClassMassGap: 0,
	}
}

// pointClass assigns probability 1 to the class containing the equal-mass
// point mi = m1 = m2 when the uncertainty band has zero area.
func (c *Classifier) pointClass(mi float64) map[string]float64 {
	out := c.zeroAreas()
	switch {
	case mi <= c.bounds.NSMax:
		out[ClassBNS] = 1
	case mi < c.bounds.GapMax:
		if c.separateGap {
			out[ClassGG] = 1
		} else {
			out[ClassMassGap] = 1
		}
	default:
		out[ClassBBH] = 1
	}
	return out
}

// mass2FromMchirpMass1 solves the chirp-mass relation
// mc = (m1*m2)^(3/5) / (m1+m2)^(1/5) for m2 given mc and m1, by bisection.
// The relation is symmetric, so the same function gives the m1 at which a
// chirp-mass curve crosses a horizontal m2 cut.
func mass2FromMchirpMass1(mc, m1 float64) float64 {
	mchirp := func(m2 float64) float64 {
		return math.Pow(m1*m2, 0.6) / math.Pow(m1+m2, 0.2)
	}
	lo, hi := 1e-9, mc
	for mchirp(hi) < mc {
		hi *= 2
	}
	for i := 0; i < 200 && hi-lo > 1e-12*hi; i++ {
		mid := 0.5 * (lo + hi)
		if mchirp(mid) < mc {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

// intMchirp integrates the m2(mc, m1) curve over m1 in [x1, x2].
// Degenerate or inverted intervals contribute zero area.
func intMchirp(mc, x1, x2 float64) float64 {
	if x2 <= x1 {
		return 0
	}
	return quad.Fixed(func(x float64) float64 {
		return mass2FromMchirpMass1(mc, x)
	}, x1, x2, quadNodes, nil, 0)
}

func clampNonNeg(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}
