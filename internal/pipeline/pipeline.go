package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/strainline/strainline/internal/api"
	"github.com/strainline/strainline/internal/candidate"
	"github.com/strainline/strainline/internal/config"
	"github.com/strainline/strainline/internal/ingest"
	"github.com/strainline/strainline/internal/pastro"
	"github.com/strainline/strainline/internal/psdvar"
	"github.com/strainline/strainline/internal/publisher"
	"github.com/strainline/strainline/internal/single"
	"github.com/strainline/strainline/internal/state"
	"github.com/strainline/strainline/internal/strain"
)

const (
	// hubbleKmPerSMpc and speedOfLightKmS give the low-redshift estimate
	// z = H0 d / c used to move the chirp mass to the source frame.
	hubbleKmPerSMpc = 67.9
	speedOfLightKmS = 299792.458

	// mchirpRelUncertainty is the relative half-width of the chirp-mass
	// band fed to the source classifier.
	mchirpRelUncertainty = 0.01
)

// detectorState is everything the pipeline owns for one detector.
type detectorState struct {
	cfg       config.DetectorConfig
	tracker   *psdvar.Tracker
	evaluator *single.Evaluator
	lastPSD   strain.PSD
	pending   []single.Trigger
	pendingHW bool
	horizon   float64
}

// Pipeline runs the decision loop. One Run goroutine owns all detector
// state; the ingest receiver, config watcher and HTTP surfaces interact with
// it only through channels and the state store.
type Pipeline struct {
	detectors map[string]*detectorState

	classifier *pastro.Classifier
	rates      *pastro.RateModel
	packager   *candidate.Packager
	stride     time.Duration

	recv    *ingest.Receiver
	store   *state.Store
	pub     *publisher.Publisher
	metrics *api.Metrics

	// cfgCh holds at most one pending config; a newer one replaces it.
	cfgCh chan *config.Config
}

// New builds a Pipeline from the startup configuration. Model files are
// loaded and validated here; any failure is a configuration error and fatal
// to startup.
func New(cfg *config.Config, recv *ingest.Receiver, st *state.Store, pub *publisher.Publisher, m *api.Metrics) (*Pipeline, error) {
	classifier, err := pastro.NewClassifier(
		pastro.MassLimits{MaxM1: cfg.PAstro.MaxM1, MinM2: cfg.PAstro.MinM2},
		pastro.MassBoundaries{NSMax: cfg.PAstro.NSMax, GapMax: cfg.PAstro.GapMax},
		cfg.PAstro.SeparateGap,
	)
	if err != nil {
		return nil, err
	}

	var rates *pastro.RateModel
	if cfg.Search.RateModelPath != "" {
		rates, err = pastro.LoadRateModel(cfg.Search.RateModelPath)
		if err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		detectors:  make(map[string]*detectorState, len(cfg.Detectors)),
		classifier: classifier,
		rates:      rates,
		packager:   candidate.NewPackager(cfg.Search.Version),
		stride:     cfg.Search.EpochStride,
		recv:       recv,
		store:      st,
		pub:        pub,
		metrics:    m,
		cfgCh:      make(chan *config.Config, 1),
	}

	for _, dc := range cfg.Detectors {
		ev, err := buildEvaluator(cfg.Search, dc)
		if err != nil {
			return nil, err
		}
		p.detectors[dc.Name] = &detectorState{
			cfg: dc,
			tracker: psdvar.NewTracker(psdvar.TrackerConfig{
				Detector:    dc.Name,
				PSDDuration: dc.PSDDuration,
				SampleRate:  dc.SampleRate,
				LowFreq:     dc.LowFreq,
				HighFreq:    dc.HighFreq,
				Options: psdvar.Options{
					ShortStride: dc.Variation.ShortStride,
					Stride:      dc.Variation.Stride,
					Trim:        dc.Variation.Trim,
				},
			}),
			evaluator: ev,
		}
	}
	return p, nil
}

func buildEvaluator(sc config.SearchConfig, dc config.DetectorConfig) (*single.Evaluator, error) {
	th := single.Thresholds{
		NewSNR:       dc.Thresholds.NewSNR,
		ReducedChisq: dc.Thresholds.ReducedChisq,
		Duration:     dc.Thresholds.Duration,
	}
	if sc.FixedIFARYears > 0 {
		return single.NewFixedIFAREvaluator(dc.Name, th, sc.FixedIFARYears)
	}
	fit, err := single.LoadFitModel(sc.FitModelPath, dc.Name)
	if err != nil {
		return nil, err
	}
	return single.NewEvaluator(dc.Name, th, fit)
}

// UpdateConfig queues a hot-reloaded config for application between epochs.
// A newer config replaces a queued one that has not been applied yet.
func (p *Pipeline) UpdateConfig(cfg *config.Config) {
	select {
	case p.cfgCh <- cfg:
	default:
		select {
		case <-p.cfgCh:
		default:
		}
		p.cfgCh <- cfg
	}
}

// Run is the decision loop. It consumes the ingest feeds, evaluates pending
// trigger batches once per epoch stride and dispatches candidates. Run
// blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.stride)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-p.recv.Strain():
			p.handleStrain(seg)
		case up := <-p.recv.PSDs():
			p.handlePSD(up)
		case up := <-p.recv.Horizons():
			p.handleHorizon(up)
		case batch := <-p.recv.Triggers():
			p.handleTriggers(batch)
		case <-ticker.C:
			// Config changes take effect here, between epochs.
			select {
			case cfg := <-p.cfgCh:
				p.applyConfig(cfg, ticker)
			default:
			}
			p.epoch(ctx)
			p.metrics.EpochsTotal.Add(1)
		}
	}
}

func (p *Pipeline) handleStrain(seg ingest.StrainSegment) {
	det, ok := p.detectors[seg.Detector]
	if !ok {
		slog.Warn("pipeline: strain for unconfigured detector", "detector", seg.Detector)
		return
	}
	if err := det.tracker.Ingest(seg.Series()); err != nil {
		slog.Warn("pipeline: strain ingest failed", "detector", seg.Detector, "err", err)
		return
	}
	p.publishStatus(det, seg.Series().EndTime())
}

func (p *Pipeline) handlePSD(up ingest.PSDUpdate) {
	det, ok := p.detectors[up.Detector]
	if !ok {
		slog.Warn("pipeline: psd for unconfigured detector", "detector", up.Detector)
		return
	}
	psd := up.PSD()
	if err := det.tracker.Rebuild(psd); err != nil {
		slog.Error("pipeline: psd rejected", "detector", up.Detector, "err", err)
		return
	}
	det.lastPSD = psd
	p.publishStatus(det, 0)
}

func (p *Pipeline) handleHorizon(up ingest.HorizonUpdate) {
	det, ok := p.detectors[up.Detector]
	if !ok {
		return
	}
	det.horizon = up.HorizonMpc
	p.publishStatus(det, 0)
}

func (p *Pipeline) handleTriggers(batch ingest.TriggerBatch) {
	det, ok := p.detectors[batch.Detector]
	if !ok {
		slog.Warn("pipeline: triggers for unconfigured detector", "detector", batch.Detector)
		return
	}
	det.pending = append(det.pending, batch.Triggers...)
	det.pendingHW = det.pendingHW || batch.HardwareInjection
}

func (p *Pipeline) publishStatus(det *detectorState, strainEnd float64) {
	status := state.DetectorStatus{
		Detector:   det.cfg.Name,
		PSDVersion: det.tracker.PSDVersion(),
		Horizon:    det.horizon,
	}
	if strainEnd > 0 {
		status.StrainEndTime = strainEnd
		status.VarianceRatio = det.tracker.Value(strainEnd)
	} else if s, ok := det.tracker.Latest(); ok {
		status.StrainEndTime = s.Time
		status.VarianceRatio = s.VarianceRatio
	} else {
		status.VarianceRatio = 1.0
	}
	p.store.Put(status)
}

// epoch evaluates each detector's pending triggers and dispatches any
// surviving candidate. Evaluation is atomic per epoch: the pending batch is
// consumed whether or not a candidate comes out of it.
func (p *Pipeline) epoch(ctx context.Context) {
	for _, det := range p.detectors {
		triggers, hw := det.pending, det.pendingHW
		det.pending, det.pendingHW = nil, false
		if len(triggers) == 0 {
			continue
		}

		res, ok := det.evaluator.Evaluate(triggers, hw)
		if !ok {
			continue
		}
		p.dispatch(ctx, det, res)
	}
}

func (p *Pipeline) dispatch(ctx context.Context, det *detectorState, res *single.Result) {
	if len(det.lastPSD.Values) == 0 {
		slog.Warn("pipeline: candidate without psd snapshot, dropped",
			"detector", det.cfg.Name, "end_time", res.Trigger.EndTime)
		return
	}

	astro := p.estimateAstro(res)
	noise := map[string]candidate.NoiseSnapshot{
		det.cfg.Name: {
			PSD:           det.lastPSD,
			VarianceRatio: det.tracker.Value(res.Trigger.EndTime),
			PSDVersion:    det.tracker.PSDVersion(),
		},
	}

	rec, err := p.packager.Package([]single.Result{*res}, astro, noise)
	if err != nil {
		slog.Error("pipeline: packaging failed", "detector", det.cfg.Name, "err", err)
		return
	}
	p.store.RecordCandidate(rec)
	p.metrics.CandidatesTotal.Add(1)

	slog.Info("pipeline: candidate",
		"detector", det.cfg.Name,
		"end_time", res.Trigger.EndTime,
		"newsnr", res.NewSNR,
		"ifar_years", res.IFARYears,
		"hardware_injection", res.HardwareInjection,
	)
	p.pub.Dispatch(ctx, rec, buildArtifacts(rec))
}

// estimateAstro fuses the mass-based classification with the rate-based
// p_astro. A rate-model failure is an input-quality condition, not a fault:
// the candidate goes out without the astro block.
func (p *Pipeline) estimateAstro(res *single.Result) *pastro.AstroProbability {
	if p.rates == nil {
		return nil
	}

	trig := res.Trigger
	mchirp := trig.Mchirp()
	if !(mchirp > 0) {
		slog.Warn("pipeline: no astro estimate",
			"detector", res.Detector, "err", "trigger carries no usable mass estimate")
		return nil
	}
	z := redshiftFromDistance(trig.EffectiveDistance())
	classes := p.classifier.Probabilities(mchirp, mchirp*mchirpRelUncertainty, z, 0)

	pAstro, err := p.rates.PAstro(pastro.CandidateInput{
		BinParam:   trig.TemplateDuration,
		NetworkSNR: trig.SNR,
		FARPerYear: 1 / res.IFARYears,
		Triggered:  []string{res.Detector},
	}, p.store.Horizons())
	if err != nil {
		slog.Warn("pipeline: no astro estimate", "detector", res.Detector, "err", err)
		return nil
	}
	fused := pastro.Fuse(classes, pAstro)
	return &fused
}

// redshiftFromDistance is the low-z Hubble flow estimate z = H0 d / c.
func redshiftFromDistance(dMpc float64) float64 {
	if dMpc <= 0 {
		return 0
	}
	return hubbleKmPerSMpc * dMpc / speedOfLightKmS
}

func buildArtifacts(rec *candidate.Record) []candidate.Artifact {
	var arts []candidate.Artifact
	if rec.Astro != nil {
		if data, err := json.Marshal(rec.Astro); err == nil {
			arts = append(arts, candidate.Artifact{
				Name:        "p_astro.json",
				ContentType: "application/json",
				Data:        data,
				Tags:        []string{"p_astro"},
			})
		}
	}
	sig := make(map[string]map[string]float64, len(rec.Detectors))
	for det, dd := range rec.Detectors {
		sig[det] = map[string]float64{
			"newsnr":     dd.NewSNR,
			"ifar_years": dd.IFARYears,
			"snr":        dd.Trigger.SNR,
		}
	}
	if data, err := json.Marshal(sig); err == nil {
		arts = append(arts, candidate.Artifact{
			Name:        "significance.json",
			ContentType: "application/json",
			Data:        data,
			Tags:        []string{"significance"},
		})
	}
	return arts
}

// applyConfig swaps thresholds, provenance and stride between epochs.
// Detector set and filter geometry changes require a restart; they are
// reported and skipped.
func (p *Pipeline) applyConfig(cfg *config.Config, ticker *time.Ticker) {
	for _, dc := range cfg.Detectors {
		det, ok := p.detectors[dc.Name]
		if !ok {
			slog.Warn("pipeline: new detector in reloaded config ignored, restart required",
				"detector", dc.Name)
			continue
		}
		ev, err := buildEvaluator(cfg.Search, dc)
		if err != nil {
			slog.Error("pipeline: reloaded thresholds rejected, keeping previous",
				"detector", dc.Name, "err", err)
			continue
		}
		det.evaluator = ev
		det.cfg.Thresholds = dc.Thresholds
	}

	p.packager = candidate.NewPackager(cfg.Search.Version)
	if cfg.Search.EpochStride != p.stride {
		p.stride = cfg.Search.EpochStride
		ticker.Reset(p.stride)
	}
	slog.Info("pipeline: config applied", "stride", p.stride, "version", cfg.Search.Version)
}

// Stride reports the current epoch stride.
func (p *Pipeline) Stride() time.Duration { return p.stride }
