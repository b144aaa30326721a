// Package single decides whether a set of per-detector triggers contains a
// significant candidate. Triggers pass a cascade of threshold cuts, are
// clustered by re-weighted SNR, and the winner is assigned an inverse
// false-alarm rate from a fitted noise rate model.
package single
