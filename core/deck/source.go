package deck

import (
	"fmt"
	"math"
	"time"

	"Bt1QMix/core/audio"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// Source is the narrow capability a deck needs from the audio-output
// facility: schedule a playback rate with its pitch-correction parameter,
// start at an offset, stop, and report the actually-played position. A test
// double satisfies the same interface.
type Source interface {
	// Schedule applies an instantaneous playback rate and the semitone
	// offset that restores original pitch at that rate. Valid in any state.
	Schedule(rate, semitones float64)
	// Start begins playback at the given offset in track seconds.
	Start(offsetSec float64) error
	// Stop halts playback, freezing the position for a later Start.
	Stop()
	// Position reports the current position in track seconds.
	Position() float64
	// SetVolume sets the linear gain in [0, 1].
	SetVolume(gain float64)
	// Close releases the source's output slot. The source is unusable after.
	Close()
}

// Output creates playable sources bound to decoded buffers. The speaker
// implementation routes to the host audio device; NullOutput simulates ideal
// sources for headless runs.
type Output interface {
	NewSource(buf *audio.Buffer) (Source, error)
	Close() error
}

// SpeakerOutput plays sources through the host's default audio device via
// the beep speaker mixer. One speaker session per engine.
type SpeakerOutput struct {
	sampleRate beep.SampleRate
}

// NewSpeakerOutput initializes the speaker at the given sample rate. Failure
// here (no device, busy device) is fatal to output but to nothing else; the
// caller may fall back to a NullOutput.
func NewSpeakerOutput(sampleRate int) (*SpeakerOutput, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	return &SpeakerOutput{sampleRate: sr}, nil
}

// NewSource wires buffer -> resampler -> volume -> pause control and parks
// the chain in the speaker mixer, paused.
func (o *SpeakerOutput) NewSource(buf *audio.Buffer) (Source, error) {
	if buf.SampleRate <= 0 || buf.Len() == 0 {
		return nil, fmt.Errorf("cannot create source from empty buffer")
	}

	stream := &bufferStreamer{buf: buf}
	baseRatio := float64(buf.SampleRate) / float64(o.sampleRate)
	resampler := beep.ResampleRatio(4, baseRatio, stream)
	volume := &effects.Volume{Streamer: resampler, Base: 2, Volume: 0}
	ctrl := &beep.Ctrl{Streamer: volume, Paused: true}

	src := &speakerSource{
		buf:       buf,
		stream:    stream,
		resampler: resampler,
		volume:    volume,
		ctrl:      ctrl,
		baseRatio: baseRatio,
	}
	speaker.Play(ctrl)
	return src, nil
}

// Close tears the mixer down.
func (o *SpeakerOutput) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}

// speakerSource adapts one buffer chain in the speaker mixer to the Source
// interface. All streamer state is touched under the speaker lock.
type speakerSource struct {
	buf       *audio.Buffer
	stream    *bufferStreamer
	resampler *beep.Resampler
	volume    *effects.Volume
	ctrl      *beep.Ctrl
	baseRatio float64
	semitones float64
}

func (s *speakerSource) Schedule(rate, semitones float64) {
	if rate <= 0 {
		return
	}
	speaker.Lock()
	s.resampler.SetRatio(s.baseRatio * rate)
	s.semitones = semitones
	speaker.Unlock()
}

func (s *speakerSource) Start(offsetSec float64) error {
	n := int(offsetSec * float64(s.buf.SampleRate))
	speaker.Lock()
	err := s.stream.Seek(clampInt(n, 0, s.stream.Len()))
	s.ctrl.Paused = false
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("failed to seek source: %w", err)
	}
	return nil
}

func (s *speakerSource) Stop() {
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

func (s *speakerSource) Position() float64 {
	speaker.Lock()
	pos := s.stream.Position()
	speaker.Unlock()
	return float64(pos) / float64(s.buf.SampleRate)
}

func (s *speakerSource) SetVolume(gain float64) {
	speaker.Lock()
	if gain <= 0 {
		s.volume.Silent = true
	} else {
		s.volume.Silent = false
		s.volume.Volume = math.Log2(gain)
	}
	speaker.Unlock()
}

func (s *speakerSource) Close() {
	speaker.Lock()
	s.ctrl.Streamer = nil // drains on the next mixer pass
	speaker.Unlock()
}

// bufferStreamer streams a decoded buffer and never drains: past the end it
// emits silence so the mixer slot stays alive for replays after a seek back.
type bufferStreamer struct {
	buf *audio.Buffer
	pos int
}

func (s *bufferStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos < len(s.buf.Samples) {
			samples[i] = s.buf.Samples[s.pos]
			s.pos++
		} else {
			samples[i] = [2]float64{}
		}
	}
	return len(samples), true
}

func (s *bufferStreamer) Err() error { return nil }

func (s *bufferStreamer) Len() int { return len(s.buf.Samples) }

func (s *bufferStreamer) Position() int {
	if s.pos > len(s.buf.Samples) {
		return len(s.buf.Samples)
	}
	return s.pos
}

func (s *bufferStreamer) Seek(p int) error {
	if p < 0 || p > len(s.buf.Samples) {
		return fmt.Errorf("seek position %d out of range", p)
	}
	s.pos = p
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
