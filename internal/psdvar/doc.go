// Package psdvar tracks short-timescale variation of detector noise relative
// to the long-term PSD estimate.
//
// A matched-filter-like kernel is rebuilt from each fresh PSD estimate and
// convolved with the live strain; the mean-square power of the output, with
// short glitches suppressed, gives one variance-ratio sample per second.
// A value of 1.0 means the noise level matches the long-term estimate.
package psdvar
