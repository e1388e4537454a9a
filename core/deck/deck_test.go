package deck

import (
	"math"
	"testing"

	"Bt1QMix/core/audio"
	"Bt1QMix/core/clock"
	"Bt1QMix/model"
)

func testBuffer(seconds float64, sampleRate int) *audio.Buffer {
	return &audio.Buffer{
		SampleRate: sampleRate,
		Samples:    make([][2]float64, int(seconds*float64(sampleRate))),
	}
}

func newTestDeck(t *testing.T, track *model.Track, seconds float64, clk *clock.ManualClock) *Deck {
	t.Helper()
	buf := testBuffer(seconds, 8000)
	src, err := NewNullOutput(clk).NewSource(buf)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return NewDeck(track, buf, src, clk, Corrector{})
}

// --- Transport ---

func TestDeckPlayPauseResume(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	if err := d.Play(0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !d.Playing() {
		t.Fatal("deck not playing after Play")
	}

	clk.Advance(2)
	if pos := d.Position(); math.Abs(pos-2) > 1e-9 {
		t.Errorf("position %v after 2s, want 2", pos)
	}

	d.Pause()
	if d.Playing() {
		t.Fatal("deck still playing after Pause")
	}
	clk.Advance(3)
	if pos := d.Position(); math.Abs(pos-2) > 1e-9 {
		t.Errorf("position %v moved while paused, want 2", pos)
	}

	if err := d.Play(0); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clk.Advance(1)
	if pos := d.Position(); math.Abs(pos-3) > 1e-9 {
		t.Errorf("position %v after resume, want 3", pos)
	}
}

func TestDeckPlayIdempotent(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	if err := d.Play(0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clk.Advance(2)
	if err := d.Play(0); err != nil {
		t.Fatalf("second Play: %v", err)
	}
	// The second Play must not rewind a playing deck.
	if pos := d.Position(); math.Abs(pos-2) > 1e-9 {
		t.Errorf("position %v after redundant Play, want 2", pos)
	}
}

func TestDeckSeek(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	// Stopped: the cursor moves, playback does not start.
	if err := d.Seek(5); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if d.Playing() {
		t.Fatal("Seek started playback")
	}
	if pos := d.Position(); pos != 5 {
		t.Errorf("position %v after stopped seek, want 5", pos)
	}

	if err := d.Play(0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clk.Advance(1)
	if pos := d.Position(); math.Abs(pos-6) > 1e-9 {
		t.Errorf("position %v, want 6", pos)
	}

	// Playing: seek restarts cleanly at the new position.
	if err := d.Seek(40); err != nil {
		t.Fatalf("playing seek: %v", err)
	}
	if !d.Playing() {
		t.Fatal("seek paused the deck")
	}
	clk.Advance(2)
	if pos := d.Position(); math.Abs(pos-42) > 1e-9 {
		t.Errorf("position %v after playing seek, want 42", pos)
	}
}

func TestDeckSeekClampsToTrackBounds(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 10, clk)

	if err := d.Seek(-3); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos := d.Position(); pos != 0 {
		t.Errorf("position %v after negative seek, want 0", pos)
	}

	if err := d.Seek(99); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos := d.Position(); pos != 10 {
		t.Errorf("position %v after past-end seek, want clamped 10", pos)
	}
}

func TestDeckPausesAtTrackEnd(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 2, clk)

	if err := d.Play(120); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clk.Set(5)
	d.OnBeat(clock.BeatEvent{Number: 2, Time: 5, Tempo: 120})

	if d.Playing() {
		t.Error("deck still playing past the end of its buffer")
	}
	if pos := d.Position(); pos != 2 {
		t.Errorf("position %v at track end, want duration 2", pos)
	}
}

// --- Tempo and rate ---

func TestDeckBaseRateFromTempoHint(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1", TempoHint: 100}, 60, clk)

	if err := d.Play(120); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st := d.Status(); math.Abs(st.BaseRate-1.2) > 1e-9 {
		t.Fatalf("base rate %v for a 100 bpm track at 120 bpm session, want 1.2", st.BaseRate)
	}

	clk.Advance(1)
	if pos := d.Position(); math.Abs(pos-1.2) > 1e-9 {
		t.Errorf("position %v after 1s at rate 1.2, want 1.2", pos)
	}
}

func TestDeckSetTempoReanchorsWhilePlaying(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1", TempoHint: 100}, 60, clk)

	if err := d.Play(100); err != nil {
		t.Fatalf("Play: %v", err)
	}
	clk.Advance(2) // position 2.0 at rate 1.0

	d.SetTempo(120)
	if st := d.Status(); math.Abs(st.BaseRate-1.2) > 1e-9 {
		t.Fatalf("base rate %v after tempo change, want 1.2", st.BaseRate)
	}
	// Already played material stays played; only future travel speeds up.
	clk.Advance(1)
	if pos := d.Position(); math.Abs(pos-3.2) > 1e-9 {
		t.Errorf("position %v, want 2.0 + 1.2", pos)
	}
}

func TestDeckUnknownTempoPlaysAtUnity(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	if err := d.Play(174); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st := d.Status(); st.BaseRate != 1 {
		t.Errorf("base rate %v for an unanalyzed track, want 1", st.BaseRate)
	}
}

// --- Beat-locked correction ---

func TestDeckOnBeatConvergesOntoClock(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1", TempoHint: 120}, 600, clk)

	if err := d.Play(120); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// Knock the source 50 ms behind where the anchor says it should be.
	ns := d.src.(*nullSource)
	ns.mu.Lock()
	ns.startPos -= 0.05
	ns.mu.Unlock()

	const interval = 0.5
	for k := 1; k <= 60; k++ {
		beatTime := float64(k) * interval
		clk.Set(beatTime)
		d.OnBeat(clock.BeatEvent{Number: int64(k + 1), Time: beatTime, Tempo: 120})
	}

	st := d.Status()
	if math.Abs(st.SyncErrorMs) > 5 {
		t.Errorf("sync error %.2f ms after 60 beats, want within 5 ms", st.SyncErrorMs)
	}
	if math.Abs(st.Correction-1) > 0.005 {
		t.Errorf("correction %v after convergence, want about 1", st.Correction)
	}
	if !d.Playing() {
		t.Error("deck stopped during correction")
	}
}

func TestDeckOnBeatIgnoredWhenStopped(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	d.OnBeat(clock.BeatEvent{Number: 1, Time: 0, Tempo: 120})
	if st := d.Status(); st.Correction != 1 || st.Playing {
		t.Errorf("stopped deck reacted to a beat: %+v", st)
	}
}

// --- Analysis merge ---

func TestDeckMergeRhythmRebases(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	if err := d.Play(120); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st := d.Status(); st.BaseRate != 1 || st.Analyzed {
		t.Fatalf("unexpected pre-merge status: %+v", st)
	}

	d.MergeRhythm(&model.RhythmData{
		BPM:      150,
		BeatGrid: model.BeatGrid{0, 400, 800, 1200},
	}, 120)

	st := d.Status()
	if !st.Analyzed {
		t.Error("deck not marked analyzed after merge")
	}
	if st.BPM != 150 {
		t.Errorf("status bpm %v, want detected 150", st.BPM)
	}
	if math.Abs(st.BaseRate-0.8) > 1e-9 {
		t.Errorf("base rate %v for a 150 bpm track at 120 bpm session, want 0.8", st.BaseRate)
	}
	if snap := d.TrackSnapshot(); snap.Status != model.StatusCompleted {
		t.Errorf("track status %q, want %q", snap.Status, model.StatusCompleted)
	}
}

func TestDeckMarkAnalysisFailed(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1", TempoHint: 128}, 60, clk)

	d.MarkAnalysisFailed()
	snap := d.TrackSnapshot()
	if snap.Status != model.StatusFailed {
		t.Errorf("track status %q, want %q", snap.Status, model.StatusFailed)
	}
	// The tempo hint still drives playback.
	if err := d.Play(128); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st := d.Status(); st.BaseRate != 1 {
		t.Errorf("base rate %v, want 1 from the hint", st.BaseRate)
	}
}

func TestDeckBeatTime(t *testing.T) {
	clk := &clock.ManualClock{}
	track := &model.Track{
		PublicID: "t1",
		Rhythm:   model.RhythmData{BPM: 120, BeatGrid: model.BeatGrid{0, 500, 1000}},
	}
	d := newTestDeck(t, track, 60, clk)

	if got, ok := d.BeatTime(1); !ok || got != 0.5 {
		t.Errorf("BeatTime(1) = %v, %v; want 0.5, true", got, ok)
	}
	if _, ok := d.BeatTime(3); ok {
		t.Error("BeatTime(3) ok for a 3-beat grid")
	}
	if _, ok := d.BeatTime(-1); ok {
		t.Error("BeatTime(-1) ok")
	}
}

// --- Volume ---

func TestDeckVolumeRange(t *testing.T) {
	clk := &clock.ManualClock{}
	d := newTestDeck(t, &model.Track{PublicID: "t1"}, 60, clk)

	if err := d.SetVolume(1.5); err == nil {
		t.Error("SetVolume(1.5) accepted")
	}
	if err := d.SetVolume(-0.1); err == nil {
		t.Error("SetVolume(-0.1) accepted")
	}
	if err := d.SetVolume(0.35); err != nil {
		t.Fatalf("SetVolume(0.35): %v", err)
	}
	if st := d.Status(); st.Volume != 0.35 {
		t.Errorf("volume %v, want 0.35", st.Volume)
	}
}

// --- Status ---

func TestDeckStatusFields(t *testing.T) {
	clk := &clock.ManualClock{}
	track := &model.Track{PublicID: "abc", Title: "Test Cut", Artist: "Nobody"}
	d := newTestDeck(t, track, 10, clk)

	st := d.Status()
	if st.TrackID != "abc" || st.Title != "Test Cut" || st.Artist != "Nobody" {
		t.Errorf("identity fields wrong: %+v", st)
	}
	if st.DurationMs != 10000 {
		t.Errorf("duration %d ms, want 10000", st.DurationMs)
	}
	if st.Playing || st.PositionMs != 0 || st.Volume != 1 || st.Correction != 1 {
		t.Errorf("fresh deck status: %+v", st)
	}
}
