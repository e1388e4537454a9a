package analysis

import (
	"math"

	"Bt1QMix/model"
)

// accentTemplates are canonical 4/4 accent shapes (strong, weak, medium,
// weak) a bar's normalized beat strengths are matched against.
var accentTemplates = [][4]float64{
	{1.0, 0.5, 0.7, 0.5},
	{1.0, 0.4, 0.8, 0.4},
	{1.0, 0.3, 0.6, 0.3},
}

// Downbeat scoring weights. Tunable, not contractual; chosen so that a clear
// accent on one beat out of four dominates the decision.
const (
	downbeatWeight    = 0.4
	patternWeight     = 0.3
	consistencyWeight = 0.2
	totalConfWeight   = 0.1

	// tieRatio triggers the coarser 8-beat re-check when the two best phase
	// scores are this close.
	tieRatio = 1.2
)

// ResolveDownbeat decides which grid index mod 4 starts bars. Each of the 4
// phase candidates is scored per bar on downbeat prominence, accent-template
// match and captured onset mass, averaged over bars, plus a cross-bar
// downbeat-consistency term. Near-ties fall back to an 8-beat support check.
// The result is fully deterministic for a given grid and onset list.
func ResolveDownbeat(grid model.BeatGrid, onsets []RawOnset) int {
	if len(grid) < 4 {
		return 0
	}

	// Global reference strength so per-bar onset mass is comparable across
	// phases and tracks.
	var refStrength float64
	beatStrength := make([]float64, len(grid))
	for i, t := range grid {
		s := onsetSupport(onsets, float64(t))
		beatStrength[i] = s
		if s > refStrength {
			refStrength = s
		}
	}
	if refStrength <= 0 {
		return 0
	}

	var scores [4]float64
	for phase := 0; phase < 4; phase++ {
		scores[phase] = scorePhase(beatStrength, phase, refStrength)
	}

	best, second := 0, -1
	for phase := 1; phase < 4; phase++ {
		if scores[phase] > scores[best] {
			second = best
			best = phase
		} else if second < 0 || scores[phase] > scores[second] {
			second = phase
		}
	}

	if second >= 0 && scores[second] > 0 && scores[best] < scores[second]*tieRatio {
		if eightBeatSupport(grid, onsets, second) > eightBeatSupport(grid, onsets, best) {
			return second
		}
	}
	return best
}

// scorePhase walks bars of 4 beats starting at phase and combines the
// per-bar subscores with the cross-bar consistency term.
func scorePhase(beatStrength []float64, phase int, refStrength float64) float64 {
	var (
		barAccum  float64
		barCount  int
		downbeats []float64
	)

	for start := phase; start+3 < len(beatStrength); start += 4 {
		var strengths [4]float64
		maxS := 0.0
		total := 0.0
		for k := 0; k < 4; k++ {
			strengths[k] = beatStrength[start+k]
			total += strengths[k]
			if strengths[k] > maxS {
				maxS = strengths[k]
			}
		}
		downbeats = append(downbeats, strengths[0])

		var dbScore, patternScore float64
		if maxS > 0 {
			others := (strengths[1] + strengths[2] + strengths[3]) / 3
			dbScore = clamp01((strengths[0] - others) / maxS)

			var norm [4]float64
			for k := 0; k < 4; k++ {
				norm[k] = strengths[k] / maxS
			}
			for _, tmpl := range accentTemplates {
				var match float64
				for k := 0; k < 4; k++ {
					match += 1 - math.Abs(norm[k]-tmpl[k])
				}
				patternScore += match / 4
			}
			patternScore /= float64(len(accentTemplates))
		}
		totalConf := clamp01(total / (4 * refStrength))

		barAccum += downbeatWeight*dbScore + patternWeight*patternScore + totalConfWeight*totalConf
		barCount++
	}
	if barCount == 0 {
		return 0
	}

	return barAccum/float64(barCount) + consistencyWeight*consistency(downbeats)
}

// consistency rates how stable the downbeat strength is across bars: 1 for
// identical strengths, falling toward 0 as their spread grows.
func consistency(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return clamp01(1 - math.Sqrt(variance)/mean)
}

// eightBeatSupport sums onset support at every 8th beat from the phase, the
// coarser periodicity used to break near-ties.
func eightBeatSupport(grid model.BeatGrid, onsets []RawOnset, phase int) float64 {
	var sum float64
	for i := phase; i < len(grid); i += 8 {
		sum += onsetSupport(onsets, float64(grid[i]))
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
