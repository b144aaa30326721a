package api

import (
	"fmt"
	"time"

	"github.com/strainline/strainline/internal/state"
)

// DiagnosticHint is one human-readable insight about a detector's condition.
// Hints are written in plain English so an operator on shift can act on them
// without digging through logs.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// Variance-ratio levels above which the noise is considered disturbed. The
// variation statistic is normalized so quiet data sits near 1.0.
const (
	varianceWarn     = 1.4
	varianceCritical = 2.0
)

// computeDiagnostics derives diagnostic hints from a detector status entry.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(st state.DetectorStatus, age, ttl time.Duration) []DiagnosticHint {
	var critical, warnings, info []DiagnosticHint

	if st.VarianceRatio >= varianceCritical {
		v := st.VarianceRatio
		critical = append(critical, DiagnosticHint{
			Key:   "noise_elevated",
			Level: "critical",
			Title: fmt.Sprintf("Noise %.1fx above baseline", v),
			Detail: fmt.Sprintf(
				"The short-term noise variance is %.2f times the level the current "+
					"PSD was estimated from. Ranking statistics computed against this "+
					"stretch of data are unreliable; a glitch or an environmental "+
					"disturbance is the usual cause. Candidates from this period "+
					"deserve extra scrutiny before any follow-up.", v),
			Value: &v,
		})
	} else if st.VarianceRatio >= varianceWarn {
		v := st.VarianceRatio
		warnings = append(warnings, DiagnosticHint{
			Key:   "noise_raised",
			Level: "warning",
			Title: fmt.Sprintf("Noise %.1fx above baseline", v),
			Detail: fmt.Sprintf(
				"The short-term noise variance is %.2f times its baseline. The "+
					"detector is still usable but significance estimates from this "+
					"stretch carry extra uncertainty.", v),
			Value: &v,
		})
	}

	if ttl > 0 && age > ttl/2 {
		secs := age.Seconds()
		warnings = append(warnings, DiagnosticHint{
			Key:   "feed_stale",
			Level: "warning",
			Title: "Feed going stale",
			Detail: fmt.Sprintf(
				"No update from this detector for %.0f seconds. If nothing arrives "+
					"it will drop out of the observing set. Check the upstream strain "+
					"and trigger producers.", secs),
			Value: &secs,
		})
	}

	if st.PSDVersion == 0 {
		info = append(info, DiagnosticHint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "No PSD estimate has arrived yet, so the noise variation " +
				"filter has not been built. Variance ratios read as the neutral " +
				"1.0 until the first PSD lands. No action needed.",
		})
	}

	if st.Horizon <= 0 {
		info = append(info, DiagnosticHint{
			Key:   "no_horizon",
			Level: "info",
			Title: "No horizon distance",
			Detail: "This detector has not reported a BNS horizon distance. " +
				"Candidates can still be published, but the rate-based " +
				"astrophysical probability cannot include this detector's " +
				"sensitivity until a horizon update arrives.",
		})
	}

	hints := append(critical, warnings...)
	hints = append(hints, info...)
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "nominal",
			Level:  "ok",
			Title:  "Nominal",
			Detail: "The detector is reporting on schedule and the noise is quiet.",
		})
	}
	return hints
}
