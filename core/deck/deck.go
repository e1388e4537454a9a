package deck

import (
	"fmt"
	"sync"

	"Bt1QMix/core/audio"
	"Bt1QMix/core/clock"
	"Bt1QMix/model"
)

// Deck binds one loaded track to an output source and keeps it locked to the
// shared clock. All methods are safe for concurrent use; OnBeat is invoked
// from the metronome's scheduling goroutine.
type Deck struct {
	mu        sync.Mutex
	track     *model.Track
	buf       *audio.Buffer
	src       Source
	clk       clock.Clock
	corrector Corrector

	playing  bool
	cursor   float64
	sync     SyncState
	baseRate float64
	volume   float64
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	TrackID     string  `json:"trackId"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Playing     bool    `json:"playing"`
	PositionMs  int64   `json:"positionMs"`
	DurationMs  int64   `json:"durationMs"`
	Volume      float64 `json:"volume"`
	BaseRate    float64 `json:"baseRate"`
	Correction  float64 `json:"correction"`
	SyncErrorMs float64 `json:"syncErrorMs"`
	BPM         float64 `json:"bpm"`
	Analyzed    bool    `json:"analyzed"`
}

func NewDeck(track *model.Track, buf *audio.Buffer, src Source, clk clock.Clock, corrector Corrector) *Deck {
	d := &Deck{
		track:     track,
		buf:       buf,
		src:       src,
		clk:       clk,
		corrector: corrector,
		baseRate:  1,
		volume:    1,
	}
	d.sync.Correction = 1
	return d
}

// Track returns the library record this deck plays. Only the immutable
// identity fields are safe to read while analysis may still be merging;
// use TrackSnapshot for the rest.
func (d *Deck) Track() *model.Track { return d.track }

// Play starts or resumes playback at the stored cursor, rate-locked to the
// given reference tempo. Tracks with no known tempo play at rate 1.0.
func (d *Deck) Play(tempo float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playing {
		return nil
	}
	d.baseRate = d.baseRateFor(tempo)
	d.sync.Anchor(d.clk.Now(), d.cursor)
	d.src.Schedule(d.baseRate, PitchCompensation(d.baseRate))
	if err := d.src.Start(d.cursor); err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}
	d.playing = true
	return nil
}

// Pause halts playback, keeps the position, and clears any partial rate
// correction so a later Play starts clean.
func (d *Deck) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauseLocked()
}

func (d *Deck) pauseLocked() {
	if !d.playing {
		return
	}
	d.src.Stop()
	d.cursor = d.src.Position()
	d.playing = false
	d.sync.Correction = 1
	d.src.Schedule(d.baseRate, PitchCompensation(d.baseRate))
}

// Seek moves the playhead. While playing this is a fresh start at the new
// position: the sync anchor resets and no stale correction survives.
// Positions are clamped to [0, duration].
func (d *Deck) Seek(posSec float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if posSec < 0 {
		posSec = 0
	}
	if dur := d.buf.Seconds(); posSec > dur {
		posSec = dur
	}
	if !d.playing {
		d.cursor = posSec
		return nil
	}
	d.sync.Anchor(d.clk.Now(), posSec)
	d.src.Schedule(d.baseRate, PitchCompensation(d.baseRate))
	if err := d.src.Start(posSec); err != nil {
		return fmt.Errorf("failed to restart source: %w", err)
	}
	return nil
}

// SetTempo rebases the deck on a new reference tempo. A playing deck
// re-anchors at its actual position so already-heard audio is never
// reinterpreted, then continues at the new base rate.
func (d *Deck) SetTempo(tempo float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseRate = d.baseRateFor(tempo)
	if !d.playing {
		return
	}
	pos := d.src.Position()
	d.sync.Anchor(d.clk.Now(), pos)
	d.src.Schedule(d.baseRate, PitchCompensation(d.baseRate))
}

// SetVolume sets the deck gain. Valid range is [0, 1].
func (d *Deck) SetVolume(gain float64) error {
	if gain < 0 || gain > 1 {
		return fmt.Errorf("volume %.2f out of range [0, 1]", gain)
	}
	d.mu.Lock()
	d.volume = gain
	d.src.SetVolume(gain)
	d.mu.Unlock()
	return nil
}

// OnBeat applies one bounded rate correction for the committed beat. A deck
// that reaches the end of its buffer pauses in place.
func (d *Deck) OnBeat(ev clock.BeatEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing || ev.Tempo <= 0 {
		return
	}
	actual := d.src.Position()
	if actual >= d.buf.Seconds() {
		d.pauseLocked()
		return
	}
	interval := 60.0 / ev.Tempo
	corr := d.corrector.Step(&d.sync, actual, ev.Time, interval, d.baseRate)
	rate := d.baseRate * corr
	d.src.Schedule(rate, PitchCompensation(rate))
}

// Position reports the playhead in seconds.
func (d *Deck) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playing {
		return d.src.Position()
	}
	return d.cursor
}

// Playing reports whether the deck is consuming beats.
func (d *Deck) Playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

// Status snapshots the deck for the control API.
func (d *Deck) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos := d.cursor
	if d.playing {
		pos = d.src.Position()
	}
	return Status{
		TrackID:     d.track.PublicID,
		Title:       d.track.Title,
		Artist:      d.track.Artist,
		Playing:     d.playing,
		PositionMs:  int64(pos * 1000),
		DurationMs:  int64(d.buf.DurationMs()),
		Volume:      d.volume,
		BaseRate:    d.baseRate,
		Correction:  d.sync.Correction,
		SyncErrorMs: d.sync.LastError() * 1000,
		BPM:         d.track.EffectiveTempo(),
		Analyzed:    d.track.Rhythm.HasGrid(),
	}
}

// MergeRhythm installs a completed analysis and rebases the deck on it. A
// playing deck re-anchors at its actual position, same as a tempo change.
func (d *Deck) MergeRhythm(rd *model.RhythmData, tempo float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.track.Rhythm = *rd
	d.track.Status = model.StatusCompleted
	d.baseRate = d.baseRateFor(tempo)
	if !d.playing {
		return
	}
	pos := d.src.Position()
	d.sync.Anchor(d.clk.Now(), pos)
	d.src.Schedule(d.baseRate, PitchCompensation(d.baseRate))
}

// MarkAnalysisFailed records a failed analysis. The deck stays playable at
// whatever tempo information the track already carried.
func (d *Deck) MarkAnalysisFailed() {
	d.mu.Lock()
	d.track.Status = model.StatusFailed
	d.mu.Unlock()
}

// TrackSnapshot returns a copy of the track record for persistence.
func (d *Deck) TrackSnapshot() model.Track {
	d.mu.Lock()
	t := *d.track
	d.mu.Unlock()
	return t
}

// BeatTime resolves a beat-grid index to seconds. The second return is
// false when no grid exists or the index is out of range.
func (d *Deck) BeatTime(idx int) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	grid := d.track.Rhythm.BeatGrid
	if idx < 0 || idx >= len(grid) {
		return 0, false
	}
	return float64(grid[idx]) / 1000, true
}

// Close stops the deck and releases its output slot.
func (d *Deck) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	d.src.Close()
}

func (d *Deck) baseRateFor(tempo float64) float64 {
	eff := d.track.EffectiveTempo()
	if eff <= 0 || tempo <= 0 {
		return 1
	}
	return tempo / eff
}
