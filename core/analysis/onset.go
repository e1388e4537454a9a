package analysis

import (
	"context"
	"sort"

	"Bt1QMix/core/dsp"

	"github.com/goccmack/godsp"
	"github.com/goccmack/godsp/peaks"
)

// minOnsetSepMs is the minimum spacing between two reported onsets. Attacks
// closer than this are one perceptual event.
const minOnsetSepMs = 100.0

// autocorrWindowSec caps how much of the onset envelope the tempo
// autocorrelation scans; the middle of the track is the most regular part.
const autocorrWindowSec = 90.0

// Estimate is the raw output of the onset/tempo stage. BPM may be a
// half-or-double-tempo alias; grid fitting folds it later. A zero BPM with no
// onsets means the signal had no usable rhythmic content.
type Estimate struct {
	Onsets []RawOnset
	BPM    float64
}

// estimator walks the conditioned signal in hopped frames, scoring spectral
// flux per frame, then derives onsets from flux peaks and a tempo estimate
// from the wavelet onset envelope. Long loops yield between chunks.
type estimator struct {
	window    int
	hop       int
	chunk     int // frames per yield
	threshold float64
	minTempo  float64
	maxTempo  float64
	yield     YieldFunc
	progress  func(stage string, fraction float64)
}

func (e *estimator) run(ctx context.Context, samples []float64, sampleRate int) (Estimate, error) {
	var est Estimate
	if sampleRate <= 0 || len(samples) < e.window {
		return est, nil
	}

	// Flux series, one value per hop.
	numFrames := (len(samples)-e.window)/e.hop + 1
	flux := make([]float64, numFrames)
	det := dsp.NewFlux(e.window)
	for i := 0; i < numFrames; i++ {
		if i > 0 && i%e.chunk == 0 {
			if err := e.yield(ctx); err != nil {
				return Estimate{}, err
			}
			e.reportProgress("onsets", float64(i)/float64(numFrames))
		}
		start := i * e.hop
		flux[i] = det.Frame(samples[start : start+e.window])
	}

	// Normalize to a mean of 1 so peak confidences and the gate threshold are
	// independent of input level. An all-zero series is silence.
	avg := godsp.Average(flux)
	if avg <= 0 {
		return est, nil
	}
	flux = godsp.DivS(flux, avg)

	minSep := int(minOnsetSepMs / 1000 * float64(sampleRate) / float64(e.hop))
	if minSep < 1 {
		minSep = 1
	}
	for _, pk := range peaks.Get(flux, minSep) {
		conf := flux[pk]
		if conf < e.threshold {
			continue
		}
		est.Onsets = append(est.Onsets, RawOnset{
			TimeMs:     float64(pk) * float64(e.hop) / float64(sampleRate) * 1000,
			Confidence: conf,
		})
	}
	sort.Slice(est.Onsets, func(i, j int) bool {
		return est.Onsets[i].TimeMs < est.Onsets[j].TimeMs
	})

	if err := e.yield(ctx); err != nil {
		return Estimate{}, err
	}
	e.reportProgress("tempo", 0)

	env := dsp.OnsetEnvelope(samples)
	bpm, err := e.estimateBPM(ctx, env, float64(sampleRate)/dsp.EnvelopeDecimation)
	if err != nil {
		return Estimate{}, err
	}
	est.BPM = bpm
	e.reportProgress("tempo", 1)
	return est, nil
}

// estimateBPM autocorrelates the onset envelope over lags covering the
// supported tempo range and converts the strongest lag to BPM.
func (e *estimator) estimateBPM(ctx context.Context, env []float64, envRate float64) (float64, error) {
	if envRate <= 0 || len(env) < 2 {
		return 0, nil
	}

	// Halve the envelope rate; beat periodicity needs nowhere near the
	// wavelet envelope's resolution and the correlation cost drops 4x.
	half := make([]float64, len(env)/2)
	for i := range half {
		half[i] = (env[2*i] + env[2*i+1]) / 2
	}
	rate := envRate / 2

	if maxN := int(rate * autocorrWindowSec); len(half) > maxN {
		start := (len(half) - maxN) / 2
		half = half[start : start+maxN]
	}

	minLag := int(rate * 60 / e.maxTempo)
	maxLag := int(rate * 60 / e.minTempo)
	if maxLag >= len(half) {
		maxLag = len(half) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if minLag >= maxLag {
		return 0, nil
	}

	bestLag, bestCorr := 0, -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		if (lag-minLag)%100 == 99 {
			if err := e.yield(ctx); err != nil {
				return 0, err
			}
		}
		var corr float64
		count := 0
		for i := 0; i+lag < len(half); i++ {
			corr += half[i] * half[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}
		if corr > bestCorr {
			bestCorr, bestLag = corr, lag
		}
	}
	if bestLag == 0 || bestCorr <= 0 {
		return 0, nil
	}
	return 60 * rate / float64(bestLag), nil
}

func (e *estimator) reportProgress(stage string, fraction float64) {
	if e.progress != nil {
		e.progress(stage, fraction)
	}
}
