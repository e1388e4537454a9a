package dsp

import "math"

// Biquad is a direct form I second-order IIR filter section with RBJ cookbook
// coefficients.
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// NewLowPass returns a low-pass section at the given cutoff.
func NewLowPass(sampleRate, cutoff, q float64) *Biquad {
	omega := 2 * math.Pi * cutoff / sampleRate
	sn, cs := math.Sin(omega), math.Cos(omega)
	alpha := sn / (2 * q)

	a0 := 1 + alpha
	return &Biquad{
		b0: ((1 - cs) / 2) / a0,
		b1: (1 - cs) / a0,
		b2: ((1 - cs) / 2) / a0,
		a1: (-2 * cs) / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewHighPass returns a high-pass section at the given cutoff.
func NewHighPass(sampleRate, cutoff, q float64) *Biquad {
	omega := 2 * math.Pi * cutoff / sampleRate
	sn, cs := math.Sin(omega), math.Cos(omega)
	alpha := sn / (2 * q)

	a0 := 1 + alpha
	return &Biquad{
		b0: ((1 + cs) / 2) / a0,
		b1: (-(1 + cs)) / a0,
		b2: ((1 + cs) / 2) / a0,
		a1: (-2 * cs) / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewPeaking returns a peaking EQ section boosting (or cutting) around center
// by gainDB.
func NewPeaking(sampleRate, center, q, gainDB float64) *Biquad {
	amp := math.Pow(10, gainDB/40)
	omega := 2 * math.Pi * center / sampleRate
	sn, cs := math.Sin(omega), math.Cos(omega)
	alpha := sn / (2 * q)

	a0 := 1 + alpha/amp
	return &Biquad{
		b0: (1 + alpha*amp) / a0,
		b1: (-2 * cs) / a0,
		b2: (1 - alpha*amp) / a0,
		a1: (-2 * cs) / a0,
		a2: (1 - alpha/amp) / a0,
	}
}

// Process filters one sample.
func (f *Biquad) Process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Reset clears the filter's state memory.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
