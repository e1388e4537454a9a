package analysis

import (
	"math"
	"sort"
)

// RawOnset is one detected attack transient. Confidence is an
// algorithm-specific magnitude (normalized flux), not a probability.
// Onsets live only inside the analysis pipeline and are never persisted.
type RawOnset struct {
	TimeMs     float64
	Confidence float64
}

// onsetWindowMs bounds how far an onset may sit from a grid point and still
// support it. Weight falls off linearly to zero at the window edge.
const onsetWindowMs = 100.0

// onsetSupport sums the confidence of all onsets within the support window of
// tMs, each weighted by 1 - distance/window. Onsets must be sorted by time.
func onsetSupport(onsets []RawOnset, tMs float64) float64 {
	lo := sort.Search(len(onsets), func(i int) bool {
		return onsets[i].TimeMs >= tMs-onsetWindowMs
	})

	var sum float64
	for i := lo; i < len(onsets) && onsets[i].TimeMs <= tMs+onsetWindowMs; i++ {
		w := 1 - math.Abs(onsets[i].TimeMs-tMs)/onsetWindowMs
		if w > 0 {
			sum += onsets[i].Confidence * w
		}
	}
	return sum
}
