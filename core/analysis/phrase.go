package analysis

import (
	"math"

	"Bt1QMix/model"
)

// Phrase length bounds in bars, and the energy-change threshold as a fraction
// of the loudest bar.
const (
	minPhraseBars        = 4
	maxPhraseBars        = 8
	phraseThresholdRatio = 0.6
)

// SegmentPhrases groups bars into phrases. Beats are partitioned into bars of
// 4 starting at the downbeat offset; a phrase boundary opens when the bar
// energy jumps by more than the threshold or the phrase hits the 8-bar cap,
// and closes only once the phrase holds at least 4 bars. A trailing run of 4+
// bars becomes a final phrase; shorter leftovers at either end are dropped.
func SegmentPhrases(grid model.BeatGrid, onsets []RawOnset, downbeat int) model.PhraseList {
	type bar struct {
		startBeat int
		energy    float64
	}

	var bars []bar
	for start := downbeat; start+3 < len(grid); start += 4 {
		var energy float64
		for k := 0; k < 4; k++ {
			energy += onsetSupport(onsets, float64(grid[start+k]))
		}
		bars = append(bars, bar{startBeat: start, energy: energy})
	}
	if len(bars) == 0 {
		return nil
	}

	var maxEnergy float64
	for _, b := range bars {
		if b.energy > maxEnergy {
			maxEnergy = b.energy
		}
	}
	threshold := phraseThresholdRatio * maxEnergy

	emit := func(phrases model.PhraseList, firstBar, lastBar int) model.PhraseList {
		firstBeat := bars[firstBar].startBeat
		lastBeat := bars[lastBar].startBeat + 3
		return append(phrases, model.Phrase{
			StartMs: grid[firstBeat],
			EndMs:   grid[lastBeat],
		})
	}

	var phrases model.PhraseList
	phraseStart := 0
	for b := 1; b < len(bars); b++ {
		length := b - phraseStart
		boundary := length >= maxPhraseBars ||
			math.Abs(bars[b].energy-bars[b-1].energy) > threshold
		if boundary && length >= minPhraseBars {
			phrases = emit(phrases, phraseStart, b-1)
			phraseStart = b
		}
	}
	if len(bars)-phraseStart >= minPhraseBars {
		phrases = emit(phrases, phraseStart, len(bars)-1)
	}
	return phrases
}
