package archive

import (
	"path/filepath"
	"testing"

	"github.com/strainline/strainline/internal/candidate"
	"github.com/strainline/strainline/internal/pastro"
	"github.com/strainline/strainline/internal/single"
	"github.com/strainline/strainline/internal/strain"
)

func testArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "candidates.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testRecord(t *testing.T, det string, endTime float64) *candidate.Record {
	t.Helper()
	psd := strain.PSD{Values: []float64{1e-46, 1e-46, 1e-46}, DeltaF: 0.25}
	astro := pastro.Fuse(map[string]float64{pastro.ClassBNS: 1.0}, 0.87)
	p := candidate.NewPackager("strainline-test-1")
	rec, err := p.Package(
		[]single.Result{{
			Detector: det,
			Trigger: single.Trigger{
				Detector: det, EndTime: endTime, SNR: 9.5, ReducedChisq: 1.2,
				TemplateDuration: 8, SigmaSq: 3e46, Mass1: 1.5, Mass2: 1.3,
			},
			NewSNR:    9.5,
			IFARYears: 12.5,
		}},
		&astro,
		map[string]candidate.NoiseSnapshot{
			det: {PSD: psd, VarianceRatio: 1.05, PSDVersion: 3},
		},
	)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	return rec
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	a := testArchive(t)
	rec := testRecord(t, "H1", 1187008882.4)
	arts := []candidate.Artifact{
		{Name: "p_astro.json", ContentType: "application/json", Data: []byte(`{"p_astro":0.87}`), Tags: []string{"p_astro"}},
		{Name: "snr_series.bin", ContentType: "application/octet-stream", Data: []byte{0x01, 0x02}},
	}
	if err := a.Save(rec, arts); err != nil {
		t.Fatalf("Save: %v", err)
	}

	back, backArts, err := a.Load(rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.IFARYears != rec.IFARYears || back.FAR != rec.FAR || back.NetworkSNR != rec.NetworkSNR {
		t.Error("significance fields changed across archive round trip")
	}
	if back.Astro.PAstro != rec.Astro.PAstro || back.Astro.Classes[pastro.ClassBNS] != rec.Astro.Classes[pastro.ClassBNS] {
		t.Error("probability fields changed across archive round trip")
	}
	if back.Detectors["H1"].Noise.PSDVersion != 3 {
		t.Error("noise snapshot changed across archive round trip")
	}
	if len(backArts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(backArts))
	}
	// Artifacts come back ordered by name.
	if backArts[0].Name != "p_astro.json" || backArts[1].Name != "snr_series.bin" {
		t.Errorf("artifact order: %s, %s", backArts[0].Name, backArts[1].Name)
	}
	if string(backArts[0].Data) != `{"p_astro":0.87}` {
		t.Error("artifact payload changed across archive round trip")
	}
	if len(backArts[0].Tags) != 1 || backArts[0].Tags[0] != "p_astro" {
		t.Errorf("artifact tags = %v", backArts[0].Tags)
	}
}

func TestMarkUploaded(t *testing.T) {
	a := testArchive(t)
	rec := testRecord(t, "L1", 1187008882.6)
	if err := a.Save(rec, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := a.MarkUploaded(rec.ID, "S260827ab"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	back, _, err := a.Load(rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.UploadedEventID != "S260827ab" {
		t.Errorf("uploaded event id = %q, want S260827ab", back.UploadedEventID)
	}

	if err := a.MarkUploaded("no-such-id", "S260827ab"); err == nil {
		t.Error("marking an unknown candidate must fail")
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	a := testArchive(t)
	first := testRecord(t, "H1", 1187008882.4)
	second := testRecord(t, "L1", 1187008999.0)
	if err := a.Save(first, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := a.Save(second, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := a.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d summaries, want 2", len(got))
	}
	if got[0].ID != second.ID {
		t.Error("newest candidate must come first")
	}
	if got[0].PAstro != second.Astro.PAstro {
		t.Errorf("summary p_astro = %g", got[0].PAstro)
	}

	limited, err := a.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not applied: got %d", len(limited))
	}
}

func TestLoad_Missing(t *testing.T) {
	a := testArchive(t)
	if _, _, err := a.Load("no-such-id"); err == nil {
		t.Fatal("loading an unknown candidate must fail")
	}
}
