package deck

import "math"

const (
	// syncDeadbandSec is the error magnitude below which the correction
	// snaps to exactly 1.0 instead of chasing noise in position reports.
	syncDeadbandSec = 0.002
	// strengthFullAtSec is the error magnitude at which the proportional
	// term applies at full strength. Smaller errors are corrected more
	// gently so the rate does not audibly wobble around the lock point.
	strengthFullAtSec = 0.100
	// strengthFloor keeps small errors converging instead of stalling.
	strengthFloor = 0.3

	// DefaultMaxCorrection bounds the instantaneous rate deviation so a
	// large seek error cannot produce an audible pitch lurch.
	DefaultMaxCorrection = 0.08
	// DefaultBlend is the exponential smoothing weight for new corrections.
	DefaultBlend = 0.3
)

// SyncState anchors a playing track against the shared clock. StartClockTime
// and StartOffset are set when playback starts, seeks, or re-anchors after a
// tempo change; Correction carries the smoothed rate multiplier between beats.
type SyncState struct {
	StartClockTime float64
	StartOffset    float64
	Correction     float64

	lastError float64
}

// LastError is the most recent raw sync error in seconds, kept for status
// reporting. Positive means the track lags its expected position.
func (s *SyncState) LastError() float64 { return s.lastError }

// Anchor resets the state to a fresh start point with no correction applied.
func (s *SyncState) Anchor(clockTime, offset float64) {
	s.StartClockTime = clockTime
	s.StartOffset = offset
	s.Correction = 1
	s.lastError = 0
}

// Corrector computes bounded, smoothed rate corrections from observed
// position error. MaxCorrection and Blend default when zero.
type Corrector struct {
	MaxCorrection float64
	Blend         float64
}

// Step advances the correction for one beat. beatTime is the beat's committed
// clock time, actualPos the source-reported position in track seconds,
// interval the beat interval in seconds, baseRate the uncorrected playback
// rate. It returns the new correction factor and records the raw error.
func (c Corrector) Step(state *SyncState, actualPos, beatTime, interval, baseRate float64) float64 {
	maxCorr := c.MaxCorrection
	if maxCorr <= 0 {
		maxCorr = DefaultMaxCorrection
	}
	blend := c.Blend
	if blend <= 0 || blend > 1 {
		blend = DefaultBlend
	}
	if state.Correction == 0 {
		state.Correction = 1
	}

	expected := state.StartOffset + (beatTime-state.StartClockTime)*baseRate
	err := expected - actualPos
	state.lastError = err

	target := 1.0
	if math.Abs(err) >= syncDeadbandSec && interval > 0 {
		strength := math.Abs(err) / strengthFullAtSec
		if strength < strengthFloor {
			strength = strengthFloor
		}
		if strength > 1 {
			strength = 1
		}
		target = 1 + strength*err/interval
		if target > 1+maxCorr {
			target = 1 + maxCorr
		}
		if target < 1-maxCorr {
			target = 1 - maxCorr
		}
	}

	corr := state.Correction*(1-blend) + target*blend
	if math.Abs(corr-1) < 1e-4 {
		corr = 1
	}
	state.Correction = corr
	return corr
}

// PitchCompensation returns the semitone offset that restores original pitch
// when playing at the given rate: -12*log2(rate). Rate 1.0 yields 0.
func PitchCompensation(rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return -12 * math.Log2(rate)
}
