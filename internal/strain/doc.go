// Package strain provides the time-domain and frequency-domain series types
// shared by the noise variation tracker: whitened detector strain windows and
// periodically refreshed power spectral density estimates.
package strain
