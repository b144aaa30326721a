package candidate

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/strainline/strainline/internal/pastro"
	"github.com/strainline/strainline/internal/single"
	"github.com/strainline/strainline/internal/strain"
)

var baseTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func testPSD() strain.PSD {
	vals := make([]float64, 17)
	for i := range vals {
		vals[i] = 1e-46
	}
	return strain.PSD{Values: vals, DeltaF: 0.25}
}

func testAstro() *pastro.AstroProbability {
	a := pastro.Fuse(map[string]float64{
		pastro.ClassBNS:  0.9,
		pastro.ClassNSBH: 0.1,
	}, 0.8)
	return &a
}

func testResult(det string, endTime, snr, ifar float64) single.Result {
	return single.Result{
		Detector: det,
		Trigger: single.Trigger{
			Detector:         det,
			EndTime:          endTime,
			SNR:              snr,
			ReducedChisq:     1.1,
			TemplateDuration: 12,
			TemplateID:       42,
			SigmaSq:          4e46,
			Mass1:            1.5,
			Mass2:            1.3,
		},
		NewSNR:    snr,
		IFARYears: ifar,
	}
}

func testNoise(dets ...string) map[string]NoiseSnapshot {
	out := make(map[string]NoiseSnapshot, len(dets))
	for i, det := range dets {
		out[det] = NoiseSnapshot{
			PSD:           testPSD(),
			VarianceRatio: 1.0 + 0.1*float64(i),
			PSDVersion:    uint64(i + 1),
		}
	}
	return out
}

func fixedPackager() *Packager {
	p := NewPackager("strainline-test-1")
	p.now = func() time.Time { return baseTime }
	return p
}

func TestPackage_DerivedFields(t *testing.T) {
	p := fixedPackager()
	results := []single.Result{
		testResult("H1", 1187008882.4, 6.0, 20),
		testResult("L1", 1187008882.6, 8.0, 5),
	}
	rec, err := p.Package(results, testAstro(), testNoise("H1", "L1"))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	if rec.ID == "" {
		t.Error("record must carry a generated ID")
	}
	if rec.SearchVersion != "strainline-test-1" {
		t.Errorf("search version = %q", rec.SearchVersion)
	}
	if !rec.CreatedAt.Equal(baseTime) {
		t.Errorf("created at = %v, want %v", rec.CreatedAt, baseTime)
	}
	if !almostEqual(rec.NetworkSNR, 10.0, 1e-12) {
		t.Errorf("network SNR = %g, want 10 (sqrt(36+64))", rec.NetworkSNR)
	}
	if !almostEqual(rec.MergerTime, 1187008882.5, 1e-6) {
		t.Errorf("merger time = %.6f, want mean of end times", rec.MergerTime)
	}
	if rec.IFARYears != 5 {
		t.Errorf("combined IFAR = %g, want the smallest per-detector IFAR", rec.IFARYears)
	}
	if !almostEqual(rec.FAR, 1/(secondsPerYear*5), 1e-20) {
		t.Errorf("FAR = %g, want %g", rec.FAR, 1/(secondsPerYear*5))
	}

	h1 := rec.Detectors["H1"]
	wantDist := math.Sqrt(4e46) / 6.0
	if !almostEqual(h1.EffectiveDistance, wantDist, 1e-6) {
		t.Errorf("H1 effective distance = %g, want %g", h1.EffectiveDistance, wantDist)
	}
	if got := rec.TriggeredDetectors(); len(got) != 2 || got[0] != "H1" || got[1] != "L1" {
		t.Errorf("triggered detectors = %v", got)
	}
}

func TestPackage_MissingSnapshotFailsWhole(t *testing.T) {
	p := fixedPackager()
	results := []single.Result{
		testResult("H1", 1187008882.4, 6.0, 20),
		testResult("L1", 1187008882.6, 8.0, 5),
	}
	// L1 snapshot absent: the whole call fails, no partial record.
	rec, err := p.Package(results, testAstro(), testNoise("H1"))
	if err == nil {
		t.Fatal("expected error for missing L1 snapshot")
	}
	if rec != nil {
		t.Fatal("failed packaging must not return a record")
	}
}

func TestPackage_RejectsBadInputs(t *testing.T) {
	p := fixedPackager()
	good := testResult("H1", 1187008882.4, 6.0, 20)

	cases := map[string]single.Result{
		"zero snr":      func() single.Result { r := good; r.Trigger.SNR = 0; return r }(),
		"zero sigma_sq": func() single.Result { r := good; r.Trigger.SigmaSq = 0; return r }(),
		"zero end time": func() single.Result { r := good; r.Trigger.EndTime = 0; return r }(),
		"zero ifar":     func() single.Result { r := good; r.IFARYears = 0; return r }(),
		"no detector":   func() single.Result { r := good; r.Detector = ""; return r }(),
	}
	for name, res := range cases {
		if _, err := p.Package([]single.Result{res}, testAstro(), testNoise("H1")); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := p.Package(nil, testAstro(), testNoise("H1")); err == nil {
		t.Error("empty result set: expected error")
	}
	if _, err := p.Package([]single.Result{good, good}, testAstro(), testNoise("H1")); err == nil {
		t.Error("duplicate detector: expected error")
	}

	badPSD := testNoise("H1")
	badPSD["H1"] = NoiseSnapshot{PSD: strain.PSD{Values: []float64{0, -1}, DeltaF: 0.25}}
	if _, err := p.Package([]single.Result{good}, testAstro(), badPSD); err == nil {
		t.Error("invalid PSD: expected error")
	}
}

func TestPackage_HardwareInjectionPropagates(t *testing.T) {
	p := fixedPackager()
	res := testResult("H1", 1187008882.4, 6.0, 20)
	res.HardwareInjection = true
	rec, err := p.Package([]single.Result{res}, testAstro(), testNoise("H1"))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if !rec.HardwareInjection {
		t.Error("hardware-injection flag must propagate to the record")
	}
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	p := fixedPackager()
	results := []single.Result{
		testResult("H1", 1187008882.4, 6.0, 20),
		testResult("L1", 1187008882.6, 8.0, 5),
	}
	rec, err := p.Package(results, testAstro(), testNoise("H1", "L1"))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.IFARYears != rec.IFARYears || back.FAR != rec.FAR {
		t.Error("significance fields changed across the round trip")
	}
	if back.Astro.PAstro != rec.Astro.PAstro || back.Astro.PTerrestrial != rec.Astro.PTerrestrial {
		t.Error("probability fields changed across the round trip")
	}
	for class, v := range rec.Astro.Classes {
		if back.Astro.Classes[class] != v {
			t.Errorf("class %s changed across the round trip", class)
		}
	}
	if back.Detectors["L1"].NewSNR != rec.Detectors["L1"].NewSNR {
		t.Error("per-detector newsnr changed across the round trip")
	}
	if back.NetworkSNR != rec.NetworkSNR || back.MergerTime != rec.MergerTime {
		t.Error("derived summary fields changed across the round trip")
	}
}

func TestPackage_NilAstroMeansNoEstimate(t *testing.T) {
	p := fixedPackager()
	rec, err := p.Package(
		[]single.Result{testResult("H1", 1187008882.4, 6.0, 20)}, nil, testNoise("H1"))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if rec.Astro != nil {
		t.Error("nil astro input must stay nil on the record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"astro"`) {
		t.Error("astro block must be omitted when there is no estimate")
	}
}
