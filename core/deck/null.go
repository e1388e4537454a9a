package deck

import (
	"fmt"
	"sync"

	"Bt1QMix/core/audio"
	"Bt1QMix/core/clock"
)

// NullOutput simulates ideal sources that advance with the clock at exactly
// the scheduled rate. It lets the whole engine run without an audio device,
// which is how headless servers and the test suite operate.
type NullOutput struct {
	clk clock.Clock
}

func NewNullOutput(clk clock.Clock) *NullOutput {
	return &NullOutput{clk: clk}
}

func (o *NullOutput) NewSource(buf *audio.Buffer) (Source, error) {
	if buf.SampleRate <= 0 || buf.Len() == 0 {
		return nil, fmt.Errorf("cannot create source from empty buffer")
	}
	return &nullSource{clk: o.clk, duration: buf.Seconds(), rate: 1, volume: 1}, nil
}

func (o *NullOutput) Close() error { return nil }

// nullSource advances position as startPos + (now-startClock)*rate while
// playing, clamped to the track duration. Schedule re-anchors so past travel
// keeps the old rate.
type nullSource struct {
	mu         sync.Mutex
	clk        clock.Clock
	duration   float64
	rate       float64
	semitones  float64
	volume     float64
	playing    bool
	startClock float64
	startPos   float64
	frozenPos  float64
}

func (s *nullSource) Schedule(rate, semitones float64) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		pos := s.positionLocked()
		s.startPos = pos
		s.startClock = s.clk.Now()
	}
	s.rate = rate
	s.semitones = semitones
}

func (s *nullSource) Start(offsetSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offsetSec < 0 {
		offsetSec = 0
	}
	if offsetSec > s.duration {
		offsetSec = s.duration
	}
	s.playing = true
	s.startPos = offsetSec
	s.startClock = s.clk.Now()
	return nil
}

func (s *nullSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		s.frozenPos = s.positionLocked()
		s.playing = false
	}
}

func (s *nullSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *nullSource) positionLocked() float64 {
	if !s.playing {
		return s.frozenPos
	}
	pos := s.startPos + (s.clk.Now()-s.startClock)*s.rate
	if pos > s.duration {
		return s.duration
	}
	return pos
}

func (s *nullSource) SetVolume(gain float64) {
	s.mu.Lock()
	s.volume = gain
	s.mu.Unlock()
}

func (s *nullSource) Close() {
	s.Stop()
}
