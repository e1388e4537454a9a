package dsp

// Rhythm band defaults. The band keeps kick and bass fundamentals plus enough
// low-mid energy for snares; everything else only blurs the onset picture.
// Tunable, not contractual.
const (
	HighPassCutoffHz = 35.0
	LowPassCutoffHz  = 180.0
	SnareBoostHz     = 150.0
	SnareBoostDB     = 6.0
	filterQ          = 0.7071
)

// Conditioner band-limits a mono signal to the frequency range that carries
// rhythmic transients before onset analysis. It renders offline, far faster
// than real time, so a full track can be conditioned before playback starts.
type Conditioner struct {
	stages []*Biquad
}

// NewConditioner builds the high-pass / low-pass / snare-peaking chain for
// the given sample rate.
func NewConditioner(sampleRate int) *Conditioner {
	sr := float64(sampleRate)
	return &Conditioner{
		stages: []*Biquad{
			NewHighPass(sr, HighPassCutoffHz, filterQ),
			NewLowPass(sr, LowPassCutoffHz, filterQ),
			NewPeaking(sr, SnareBoostHz, filterQ, SnareBoostDB),
		},
	}
}

// Render filters samples through the chain into a new buffer of identical
// length. The input is left untouched.
func (c *Conditioner) Render(samples []float64) []float64 {
	for _, s := range c.stages {
		s.Reset()
	}
	out := make([]float64, len(samples))
	for i, x := range samples {
		y := x
		for _, s := range c.stages {
			y = s.Process(y)
		}
		out[i] = y
	}
	return out
}
