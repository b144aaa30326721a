package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultEpochStride  = time.Second
	DefaultHTTPPort     = 8080
	DefaultIngestBuffer = 64
	DefaultStateTTL     = 5 * time.Minute
	DefaultSampleRate   = 2048
	DefaultPSDDuration  = 64.0
	DefaultLowFreq      = 20.0
	DefaultHighFreq     = 480.0
)

// Config is the top-level configuration for the strainline process.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Search    SearchConfig     `yaml:"search"`
	Detectors []DetectorConfig `yaml:"detectors"`
	PAstro    PAstroConfig     `yaml:"pastro"`
	Broker    BrokerConfig     `yaml:"broker"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Server    ServerConfig     `yaml:"server"`
}

// SearchConfig holds the pipeline-wide search settings.
type SearchConfig struct {
	// Version tags every packaged candidate with the search provenance.
	Version string `yaml:"version"`

	// EpochStride is the decision cadence; one evaluation pass per stride.
	EpochStride time.Duration `yaml:"epoch_stride"`

	// FitModelPath points at the noise fit model JSON. Required unless
	// FixedIFARYears is set.
	FitModelPath string `yaml:"fit_model_path"`

	// RateModelPath points at the signal/noise rate model JSON used for
	// the p_astro estimate.
	RateModelPath string `yaml:"rate_model_path"`

	// FixedIFARYears, when positive, bypasses the fit model and assigns
	// every passing candidate this IFAR.
	FixedIFARYears float64 `yaml:"fixed_ifar_years"`
}

// DetectorConfig describes one detector feed and its decision thresholds.
type DetectorConfig struct {
	// Name is the detector identifier, e.g. H1, L1, V1.
	Name string `yaml:"name"`

	// SampleRate is the strain sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// PSDDuration is the time span one PSD covers, in seconds. The
	// variation filter kernel spans this many seconds of strain.
	PSDDuration float64 `yaml:"psd_duration"`

	// LowFreq and HighFreq bound the variation filter band in Hz.
	LowFreq  float64 `yaml:"low_freq"`
	HighFreq float64 `yaml:"high_freq"`

	// Variation tunes the noise variation computation. Zero fields fall
	// back to the tracker defaults.
	Variation VariationConfig `yaml:"variation"`

	// Thresholds gate the single-detector evaluation.
	Thresholds ThresholdConfig `yaml:"thresholds"`
}

// VariationConfig holds the optional noise variation timing parameters, all
// in seconds.
type VariationConfig struct {
	ShortStride float64 `yaml:"short_stride"`
	Stride      float64 `yaml:"stride"`
	Trim        float64 `yaml:"trim"`
}

// ThresholdConfig holds the three staged evaluation cuts.
type ThresholdConfig struct {
	NewSNR       float64 `yaml:"newsnr"`
	ReducedChisq float64 `yaml:"reduced_chisq"`
	Duration     float64 `yaml:"duration"`
}

// PAstroConfig holds the mass geometry for source classification.
type PAstroConfig struct {
	MaxM1       float64 `yaml:"max_m1"`
	MinM2       float64 `yaml:"min_m2"`
	NSMax       float64 `yaml:"ns_max"`
	GapMax      float64 `yaml:"gap_max"`
	SeparateGap bool    `yaml:"separate_gap"`
}

// BrokerConfig points at the remote alert broker. The API token is resolved
// from the environment by the publisher, never stored here.
type BrokerConfig struct {
	URL string `yaml:"url"`
}

// ArchiveConfig configures the local durable candidate store.
type ArchiveConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// HTTPPort is the port the ingest, REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// IngestBuffer is the per-feed channel capacity; full buffers evict
	// the oldest entry.
	IngestBuffer int `yaml:"ingest_buffer"`

	// StateTTL is how long a detector status stays live without updates.
	StateTTL time.Duration `yaml:"state_ttl"`

	// Auth configures incoming request authentication.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures HTTP authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name the key is sent in.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected
	// API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyDetectorDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Search: SearchConfig{
			EpochStride: DefaultEpochStride,
		},
		Server: ServerConfig{
			HTTPPort:     DefaultHTTPPort,
			IngestBuffer: DefaultIngestBuffer,
			StateTTL:     DefaultStateTTL,
		},
	}
}

func applyDetectorDefaults(cfg *Config) {
	for i := range cfg.Detectors {
		d := &cfg.Detectors[i]
		if d.SampleRate == 0 {
			d.SampleRate = DefaultSampleRate
		}
		if d.PSDDuration == 0 {
			d.PSDDuration = DefaultPSDDuration
		}
		if d.LowFreq == 0 {
			d.LowFreq = DefaultLowFreq
		}
		if d.HighFreq == 0 {
			d.HighFreq = DefaultHighFreq
		}
	}
}

// validate checks required fields and structural constraints. The mass
// geometry and model files are validated at startup by their own loaders.
func validate(cfg *Config) error {
	if cfg.Search.Version == "" {
		return fmt.Errorf("search.version is required")
	}
	if cfg.Search.EpochStride <= 0 {
		return fmt.Errorf("search.epoch_stride must be positive")
	}
	if cfg.Search.FixedIFARYears < 0 {
		return fmt.Errorf("search.fixed_ifar_years must not be negative")
	}
	if cfg.Search.FixedIFARYears == 0 && cfg.Search.FitModelPath == "" {
		return fmt.Errorf("search.fit_model_path is required without a fixed IFAR")
	}
	if len(cfg.Detectors) == 0 {
		return fmt.Errorf("at least one detector is required")
	}
	seen := make(map[string]bool, len(cfg.Detectors))
	for i, d := range cfg.Detectors {
		if d.Name == "" {
			return fmt.Errorf("detectors[%d]: name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("detectors[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = true
		if d.SampleRate <= 0 {
			return fmt.Errorf("detectors[%d] %q: sample_rate must be positive", i, d.Name)
		}
		if d.PSDDuration <= 0 {
			return fmt.Errorf("detectors[%d] %q: psd_duration must be positive", i, d.Name)
		}
		if d.LowFreq <= 0 || d.HighFreq <= d.LowFreq {
			return fmt.Errorf("detectors[%d] %q: need 0 < low_freq < high_freq", i, d.Name)
		}
		if d.Variation.ShortStride < 0 || d.Variation.Stride < 0 || d.Variation.Trim < 0 {
			return fmt.Errorf("detectors[%d] %q: variation timings must not be negative", i, d.Name)
		}
		if d.Thresholds.NewSNR <= 0 {
			return fmt.Errorf("detectors[%d] %q: thresholds.newsnr must be positive", i, d.Name)
		}
		if d.Thresholds.ReducedChisq <= 0 {
			return fmt.Errorf("detectors[%d] %q: thresholds.reduced_chisq must be positive", i, d.Name)
		}
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range")
	}
	if cfg.Server.IngestBuffer <= 0 {
		return fmt.Errorf("server.ingest_buffer must be positive")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}
	return nil
}
