package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/strainline/strainline/internal/api"
	"github.com/strainline/strainline/internal/archive"
	"github.com/strainline/strainline/internal/candidate"
	"github.com/strainline/strainline/internal/config"
	"github.com/strainline/strainline/internal/ingest"
	"github.com/strainline/strainline/internal/publisher"
	"github.com/strainline/strainline/internal/single"
	"github.com/strainline/strainline/internal/state"
)

type nullBroker struct{ created int }

func (b *nullBroker) CreateEvent(ctx context.Context, rec *candidate.Record) (string, error) {
	b.created++
	return fmt.Sprintf("S%06d", b.created), nil
}

func (b *nullBroker) Attach(ctx context.Context, eventID string, art candidate.Artifact) error {
	return nil
}

func writeRateModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates.json")
	body := `{
		"version": "test-rates-1",
		"bin_edges": [0, 100],
		"sig_per_yr_binned": [10.0],
		"template_counts": [100],
		"ref_bns_horizon": 200,
		"netsnr_thresh": 6.0
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rate model: %v", err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Search: config.SearchConfig{
			Version:        "strainline-test-1",
			EpochStride:    time.Second,
			FixedIFARYears: 10,
			RateModelPath:  writeRateModel(t),
		},
		Detectors: []config.DetectorConfig{{
			Name:        "H1",
			SampleRate:  64,
			PSDDuration: 1.0,
			LowFreq:     5,
			HighFreq:    20,
			Thresholds:  config.ThresholdConfig{NewSNR: 6, ReducedChisq: 2, Duration: 0.5},
		}},
		PAstro: config.PAstroConfig{MaxM1: 45, MinM2: 1, NSMax: 3, GapMax: 5, SeparateGap: true},
	}
}

type fixture struct {
	p      *Pipeline
	store  *state.Store
	arch   *archive.Archive
	broker *nullBroker
	done   chan *publisher.Report
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	arch, err := archive.Open(filepath.Join(t.TempDir(), "candidates.db"))
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() { arch.Close() })

	broker := &nullBroker{}
	pub := publisher.New(broker, arch)
	done := make(chan *publisher.Report, 4)
	pub.OnDone = func(r *publisher.Report) { done <- r }

	st := state.New(5 * time.Minute)
	p, err := New(cfg, ingest.New(8), st, pub, &api.Metrics{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{p: p, store: st, arch: arch, broker: broker, done: done}
}

// testPSD matches the H1 test detector: 1 s at 64 Hz needs 33 bins.
func testPSD() ingest.PSDUpdate {
	values := make([]float64, 33)
	for i := range values {
		values[i] = 1e-46
	}
	return ingest.PSDUpdate{Detector: "H1", DeltaF: 1.0, Values: values}
}

func loudTrigger() single.Trigger {
	return single.Trigger{
		Detector: "H1", EndTime: 1187008882.4, SNR: 9.5, ReducedChisq: 0.9,
		TemplateDuration: 8, SigmaSq: 3e46, Mass1: 1.5, Mass2: 1.3,
	}
}

func waitReport(t *testing.T, done chan *publisher.Report) *publisher.Report {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("publish never completed")
		return nil
	}
}

func TestNew_RejectsBadMassGeometry(t *testing.T) {
	cfg := testConfig(t)
	cfg.PAstro.NSMax = 10 // above GapMax
	if _, err := New(cfg, ingest.New(8), state.New(time.Minute), nil, &api.Metrics{}); err == nil {
		t.Fatal("expected mass geometry error")
	}
}

func TestNew_RejectsMissingRateModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.RateModelPath = filepath.Join(t.TempDir(), "nope.json")
	if _, err := New(cfg, ingest.New(8), state.New(time.Minute), nil, &api.Metrics{}); err == nil {
		t.Fatal("expected rate model load error")
	}
}

func TestEpoch_PublishesCandidate(t *testing.T) {
	f := newFixture(t, testConfig(t))

	f.p.handlePSD(testPSD())
	f.p.handleHorizon(ingest.HorizonUpdate{Detector: "H1", HorizonMpc: 150})
	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{loudTrigger()}})
	f.p.epoch(context.Background())

	recent := f.store.RecentCandidates()
	if len(recent) != 1 {
		t.Fatalf("recorded %d candidates, want 1", len(recent))
	}
	rec := recent[0]
	if rec.IFARYears != 10 {
		t.Errorf("ifar = %g, want fixed 10", rec.IFARYears)
	}
	dd, ok := rec.Detectors["H1"]
	if !ok {
		t.Fatal("candidate missing H1 detector data")
	}
	if dd.Noise.PSDVersion != 1 {
		t.Errorf("psd version = %d, want 1", dd.Noise.PSDVersion)
	}
	if rec.Astro == nil {
		t.Fatal("astro estimate missing despite live horizon")
	}
	if rec.Astro.PAstro <= 0 || rec.Astro.PAstro > 1 {
		t.Errorf("p_astro = %g out of range", rec.Astro.PAstro)
	}

	report := waitReport(t, f.done)
	if !report.OK() {
		t.Errorf("publish report not OK: %+v", report.Steps)
	}
	if f.broker.created != 1 {
		t.Errorf("broker created %d events, want 1", f.broker.created)
	}
	back, arts, err := f.arch.Load(rec.ID)
	if err != nil {
		t.Fatalf("candidate not archived: %v", err)
	}
	if back.UploadedEventID == "" {
		t.Error("archived candidate missing event id")
	}
	names := make(map[string]bool, len(arts))
	for _, a := range arts {
		names[a.Name] = true
	}
	if !names["p_astro.json"] || !names["significance.json"] {
		t.Errorf("artifacts = %v, want p_astro.json and significance.json", names)
	}
}

func TestEpoch_NoPSDDropsCandidate(t *testing.T) {
	f := newFixture(t, testConfig(t))

	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{loudTrigger()}})
	f.p.epoch(context.Background())

	if n := len(f.store.RecentCandidates()); n != 0 {
		t.Errorf("recorded %d candidates without a psd snapshot, want 0", n)
	}
}

func TestEpoch_NoHorizonMeansNoAstroEstimate(t *testing.T) {
	f := newFixture(t, testConfig(t))

	f.p.handlePSD(testPSD())
	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{loudTrigger()}})
	f.p.epoch(context.Background())

	recent := f.store.RecentCandidates()
	if len(recent) != 1 {
		t.Fatalf("recorded %d candidates, want 1", len(recent))
	}
	if recent[0].Astro != nil {
		t.Error("astro estimate present without any horizon distance")
	}
	waitReport(t, f.done)
}

func TestEpoch_MasslessTriggerStillArchivedWithoutAstro(t *testing.T) {
	f := newFixture(t, testConfig(t))

	f.p.handlePSD(testPSD())
	f.p.handleHorizon(ingest.HorizonUpdate{Detector: "H1", HorizonMpc: 150})

	// Template mass fields are not part of the batch contract; a trigger
	// without them must not poison the candidate with NaN probabilities.
	massless := loudTrigger()
	massless.Mass1, massless.Mass2 = 0, 0
	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{massless}})
	f.p.epoch(context.Background())

	recent := f.store.RecentCandidates()
	if len(recent) != 1 {
		t.Fatalf("recorded %d candidates, want 1", len(recent))
	}
	if recent[0].Astro != nil {
		t.Error("astro estimate present for a trigger without masses")
	}

	report := waitReport(t, f.done)
	if !report.OK() {
		t.Errorf("publish report not OK: %+v", report.Steps)
	}
	if _, _, err := f.arch.Load(recent[0].ID); err != nil {
		t.Errorf("candidate not in the durable store: %v", err)
	}
}

func TestEpoch_QuietTriggersProduceNothing(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.p.handlePSD(testPSD())

	quiet := loudTrigger()
	quiet.SNR = 3
	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{quiet}})
	f.p.epoch(context.Background())

	if n := len(f.store.RecentCandidates()); n != 0 {
		t.Errorf("recorded %d candidates below threshold, want 0", n)
	}
}

func TestEpoch_ConsumesPendingBatch(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.p.handlePSD(testPSD())

	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{loudTrigger()}})
	f.p.epoch(context.Background())
	waitReport(t, f.done)

	// The batch was consumed; a second epoch sees nothing.
	f.p.epoch(context.Background())
	if n := len(f.store.RecentCandidates()); n != 1 {
		t.Errorf("second epoch re-evaluated a consumed batch: %d candidates", n)
	}
}

func TestUpdateConfig_NewerReplacesQueued(t *testing.T) {
	f := newFixture(t, testConfig(t))

	first := testConfig(t)
	first.Search.Version = "first"
	second := testConfig(t)
	second.Search.Version = "second"

	f.p.UpdateConfig(first)
	f.p.UpdateConfig(second)

	select {
	case got := <-f.p.cfgCh:
		if got.Search.Version != "second" {
			t.Errorf("queued config = %q, want the newer one", got.Search.Version)
		}
	default:
		t.Fatal("no config queued")
	}
}

func TestApplyConfig_SwapsThresholdsBetweenEpochs(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.p.handlePSD(testPSD())

	raised := testConfig(t)
	raised.Detectors[0].Thresholds.NewSNR = 12
	raised.Search.EpochStride = 2 * time.Second

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	f.p.applyConfig(raised, ticker)

	if f.p.Stride() != 2*time.Second {
		t.Errorf("stride = %v, want 2s", f.p.Stride())
	}

	// 9.5 passed the old threshold of 6 but not the new 12.
	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{loudTrigger()}})
	f.p.epoch(context.Background())
	if n := len(f.store.RecentCandidates()); n != 0 {
		t.Errorf("recorded %d candidates above the raised threshold, want 0", n)
	}
}

func TestRedshiftFromDistance(t *testing.T) {
	if z := redshiftFromDistance(0); z != 0 {
		t.Errorf("z(0) = %g, want 0", z)
	}
	want := 67.9 * 100 / 299792.458
	if z := redshiftFromDistance(100); math.Abs(z-want) > 1e-12 {
		t.Errorf("z(100 Mpc) = %g, want %g", z, want)
	}
}

func TestBuildArtifacts(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.p.handlePSD(testPSD())
	f.p.handleHorizon(ingest.HorizonUpdate{Detector: "H1", HorizonMpc: 150})
	f.p.handleTriggers(ingest.TriggerBatch{Detector: "H1", Triggers: []single.Trigger{loudTrigger()}})
	f.p.epoch(context.Background())
	waitReport(t, f.done)

	rec := f.store.RecentCandidates()[0]
	arts := buildArtifacts(rec)
	if len(arts) != 2 {
		t.Fatalf("got %d artifacts, want p_astro + significance", len(arts))
	}

	noAstro := *rec
	noAstro.Astro = nil
	arts = buildArtifacts(&noAstro)
	if len(arts) != 1 || arts[0].Name != "significance.json" {
		t.Errorf("without astro: %v, want only significance.json", arts)
	}
}
