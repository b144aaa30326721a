// Package pastro estimates the astrophysical origin probability of a
// candidate and splits it across compact-binary source classes.
//
// Two independent estimates are fused: a mass-based source classification
// from the chirp-mass uncertainty band on the component-mass plane, and a
// rate-based signal-versus-noise density ratio. The fusion is multiplicative:
// the "is it astrophysical" and "which class is it" questions are treated as
// independent.
package pastro
