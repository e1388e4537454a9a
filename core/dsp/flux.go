package dsp

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Flux computes a half-wave rectified spectral flux, one value per hopped
// frame. Rising spectral magnitude between consecutive frames marks an attack
// transient; falling magnitude is ignored.
type Flux struct {
	size    int
	prev    []float64
	scratch []float64
}

// NewFlux creates a flux detector for frames of the given size.
func NewFlux(size int) *Flux {
	return &Flux{
		size:    size,
		prev:    make([]float64, size/2+1),
		scratch: make([]float64, size),
	}
}

// Frame consumes the next analysis frame (len must equal the detector size)
// and returns its flux value. Frames must be fed in order; the detector keeps
// the previous frame's spectrum as state.
func (f *Flux) Frame(frame []float64) float64 {
	copy(f.scratch, frame)
	window.Apply(f.scratch, window.Hann)
	spectrum := fft.FFTReal(f.scratch)

	var flux float64
	for k := 0; k <= f.size/2; k++ {
		mag := cmplx.Abs(spectrum[k])
		if d := mag - f.prev[k]; d > 0 {
			flux += d
		}
		f.prev[k] = mag
	}
	return flux
}

// Reset clears the previous-spectrum state.
func (f *Flux) Reset() {
	for i := range f.prev {
		f.prev[i] = 0
	}
}
