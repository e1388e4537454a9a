package analysis

import (
	"context"
	"math"

	"Bt1QMix/model"
)

// phaseCandidates is how many evenly spaced phase offsets are scored across
// one beat interval when fitting the grid.
const phaseCandidates = 20

// CanonicalBPM folds a raw tempo estimate into the 90-180 dance range.
// Estimates below 90 are doubled, above 180 halved, each at most once;
// anything already in range passes through unchanged.
func CanonicalBPM(bpm float64) float64 {
	if bpm <= 0 {
		return 0
	}
	if bpm < 90 {
		return bpm * 2
	}
	if bpm > 180 {
		return bpm / 2
	}
	return bpm
}

// FitGrid aligns a regular beat grid to the onsets. The raw tempo is folded
// to its canonical octave, then every candidate phase offset is scored by the
// onset support summed over its implied grid points; the best-scoring offset
// (first found on ties) is materialized into millisecond beat timestamps.
//
// Onsets must be sorted by time. With no onsets every offset scores zero and
// offset 0 wins, which still yields a valid evenly spaced grid. A zero tempo
// or a duration shorter than one beat returns an empty grid.
func FitGrid(ctx context.Context, onsets []RawOnset, rawBPM, durationMs float64, yield YieldFunc) (model.BeatGrid, float64, error) {
	bpm := CanonicalBPM(rawBPM)
	if bpm <= 0 || durationMs <= 0 {
		return nil, bpm, nil
	}
	if yield == nil {
		yield = DefaultYield
	}

	interval := 60000.0 / bpm
	beatCount := int(durationMs / interval)
	if beatCount == 0 {
		return nil, bpm, nil
	}

	bestOffset, bestScore := 0.0, -1.0
	for p := 0; p < phaseCandidates; p++ {
		offset := float64(p) * interval / phaseCandidates
		var score float64
		for i := 0; i < beatCount; i++ {
			t := offset + float64(i)*interval
			if t >= durationMs {
				break
			}
			score += onsetSupport(onsets, t)
		}
		if score > bestScore {
			bestScore, bestOffset = score, offset
		}
		if err := yield(ctx); err != nil {
			return nil, bpm, err
		}
	}

	grid := make(model.BeatGrid, 0, beatCount)
	for i := 0; i < beatCount; i++ {
		t := math.Round(bestOffset + float64(i)*interval)
		if t >= durationMs {
			break
		}
		grid = append(grid, int64(t))
	}
	return grid, bpm, nil
}
