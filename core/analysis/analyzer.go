package analysis

import (
	"context"
	"time"

	"Bt1QMix/core/audio"
	"Bt1QMix/core/dsp"
	"Bt1QMix/logger"
	"Bt1QMix/model"
)

// Params tunes the analysis pipeline. Zero values fall back to defaults so
// Analyzer{} works out of the box.
type Params struct {
	Window         int     // analysis frame size in samples
	Hop            int     // frame advance in samples
	ChunkFrames    int     // frames processed between yields
	OnsetThreshold float64 // onset gate in multiples of mean flux
	MinTempo       float64 // autocorrelation search floor, bpm
	MaxTempo       float64 // autocorrelation search ceiling, bpm

	// Yield runs between work chunks; OnProgress, when set, receives coarse
	// stage progress for logging or UI.
	Yield      YieldFunc
	OnProgress func(stage string, fraction float64)
}

// DefaultParams returns the defaults used by the engine and CLI.
func DefaultParams() Params {
	return Params{
		Window:         2048,
		Hop:            512,
		ChunkFrames:    4096,
		OnsetThreshold: 1.5,
		MinTempo:       60,
		MaxTempo:       200,
		Yield:          DefaultYield,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Window <= 0 {
		p.Window = d.Window
	}
	if p.Hop <= 0 {
		p.Hop = d.Hop
	}
	if p.ChunkFrames <= 0 {
		p.ChunkFrames = d.ChunkFrames
	}
	if p.OnsetThreshold <= 0 {
		p.OnsetThreshold = d.OnsetThreshold
	}
	if p.MinTempo <= 0 {
		p.MinTempo = d.MinTempo
	}
	if p.MaxTempo <= p.MinTempo {
		p.MaxTempo = d.MaxTempo
	}
	if p.Yield == nil {
		p.Yield = DefaultYield
	}
	return p
}

// Analyzer runs the full rhythm pipeline: band-limit the signal, estimate
// onsets and tempo, fit the beat grid, resolve the downbeat phase and segment
// phrases. Degenerate inputs (silence, or shorter than one beat) produce an
// empty RhythmData rather than an error; the only error paths are
// cancellation through the yield contract.
type Analyzer struct {
	params Params
}

// NewAnalyzer creates an analyzer with the given parameters.
func NewAnalyzer(params Params) *Analyzer {
	return &Analyzer{params: params.withDefaults()}
}

// Analyze processes a decoded buffer into rhythm metadata.
func (a *Analyzer) Analyze(ctx context.Context, buf *audio.Buffer) (*model.RhythmData, error) {
	start := time.Now()
	p := a.params

	mono := buf.Mono()
	conditioned := dsp.NewConditioner(buf.SampleRate).Render(mono)
	if p.OnProgress != nil {
		p.OnProgress("condition", 1)
	}
	if err := p.Yield(ctx); err != nil {
		return nil, err
	}

	est, err := (&estimator{
		window:    p.Window,
		hop:       p.Hop,
		chunk:     p.ChunkFrames,
		threshold: p.OnsetThreshold,
		minTempo:  p.MinTempo,
		maxTempo:  p.MaxTempo,
		yield:     p.Yield,
		progress:  p.OnProgress,
	}).run(ctx, conditioned, buf.SampleRate)
	if err != nil {
		return nil, err
	}

	grid, bpm, err := FitGrid(ctx, est.Onsets, est.BPM, buf.DurationMs(), p.Yield)
	if err != nil {
		return nil, err
	}

	downbeat := ResolveDownbeat(grid, est.Onsets)
	phrases := SegmentPhrases(grid, est.Onsets, downbeat)

	logger.Debug("analysis finished",
		logger.Float64("bpm", bpm),
		logger.Int("onsets", len(est.Onsets)),
		logger.Int("beats", len(grid)),
		logger.Int("downbeat", downbeat),
		logger.Int("phrases", len(phrases)),
		logger.Duration("took", time.Since(start)))

	return &model.RhythmData{
		BPM:            bpm,
		BeatGrid:       grid,
		DownbeatOffset: downbeat,
		Phrases:        phrases,
	}, nil
}
