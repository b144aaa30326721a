// Package config loads and validates the strainline YAML configuration.
//
// Load applies defaults and fails on structural errors; Watch reloads the
// file on change so threshold updates can be applied between decision
// epochs without a restart. Secrets are never stored in the file, only the
// names of environment variables that hold them.
package config
