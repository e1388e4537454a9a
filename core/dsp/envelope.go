package dsp

import (
	"github.com/goccmack/godsp"
	"github.com/goccmack/godsp/dwt"
)

// EnvelopeLevel is the number of scales of the wavelet decomposition used for
// the onset-energy envelope. The envelope is decimated by 2^EnvelopeLevel
// relative to the input.
const EnvelopeLevel = 4

// EnvelopeDecimation is the input-samples-per-envelope-sample factor.
const EnvelopeDecimation = 1 << EnvelopeLevel

// OnsetEnvelope reduces a mono signal to a coarse onset-energy envelope:
// a level-4 Daubechies-4 decomposition, absolute coefficient values per scale
// downsampled to a common length, summed across scales, and normalized to a
// mean of 1. The result tracks where rhythmic energy lands while being small
// enough to autocorrelate cheaply.
func OnsetEnvelope(samples []float64) []float64 {
	// Each decomposition level halves the length; keep it integral.
	n := (len(samples) / EnvelopeDecimation) * EnvelopeDecimation
	if n == 0 {
		return nil
	}

	transform := dwt.Daubechies4(samples[:n], EnvelopeLevel)
	coefs := transform.GetCoefficients()
	absX := godsp.AbsAll(coefs)
	dsX := godsp.DownSampleAll(absX)
	env := godsp.SumVectors(dsX)
	if avg := godsp.Average(env); avg > 0 {
		env = godsp.DivS(env, avg)
	}
	return env
}
