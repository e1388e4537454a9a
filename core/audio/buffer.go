package audio

import "time"

// Buffer holds a fully decoded track as stereo float64 PCM in [-1, 1].
// Mono sources are duplicated across both channels so playback and analysis
// share one representation. Buffers are immutable once decoded.
type Buffer struct {
	SampleRate int
	Samples    [][2]float64
}

// Len returns the number of sample frames.
func (b *Buffer) Len() int {
	return len(b.Samples)
}

// Duration returns the buffer length as wall time.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// DurationMs returns the buffer length in milliseconds.
func (b *Buffer) DurationMs() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate) * 1000.0
}

// Seconds returns the buffer length in seconds.
func (b *Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Mono mixes the buffer down to a single channel for analysis.
func (b *Buffer) Mono() []float64 {
	out := make([]float64, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = (s[0] + s[1]) * 0.5
	}
	return out
}
