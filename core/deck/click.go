package deck

import (
	"time"

	"Bt1QMix/core/clock"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	clickDuration     = 20 * time.Millisecond
	clickFreq         = 880
	clickDownbeatFreq = 1760
)

// Clicker plays a short tone on every committed beat, an octave higher on
// downbeats. Beats arrive up to one look-ahead early, so each click is
// deferred until its committed time. Requires an initialized speaker.
type Clicker struct {
	clk clock.Clock
	sr  beep.SampleRate
}

func NewClicker(clk clock.Clock, sampleRate int) *Clicker {
	return &Clicker{clk: clk, sr: beep.SampleRate(sampleRate)}
}

func (c *Clicker) OnBeat(ev clock.BeatEvent) {
	freq := clickFreq
	if ev.Downbeat {
		freq = clickDownbeatFreq
	}
	tone, err := generators.SineTone(c.sr, float64(freq))
	if err != nil {
		return
	}
	click := beep.Take(c.sr.N(clickDuration), tone)
	delay := time.Duration((ev.Time - c.clk.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		speaker.Play(click)
	})
}
