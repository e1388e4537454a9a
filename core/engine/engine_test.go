package engine

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"Bt1QMix/config"
	"Bt1QMix/core/audio"
	"Bt1QMix/core/clock"
	"Bt1QMix/core/deck"
	"Bt1QMix/model"
)

func testConfig() *config.Config {
	return &config.Config{
		EngineSampleRate:    8000,
		DefaultTempo:        120,
		MinTempo:            60,
		MaxTempo:            200,
		LookaheadMs:         100,
		TickPeriodMs:        5,
		AnalysisWindow:      1024,
		AnalysisHop:         256,
		AnalysisChunkFrames: 4096,
		OnsetThreshold:      1.5,
		MaxCorrection:       0.08,
		CorrectionBlend:     0.3,
	}
}

func newTestEngine(clk clock.Clock) *Engine {
	return New(testConfig(), clk, deck.NewNullOutput(clk))
}

// writeTestWAV creates a mono 16-bit PCM fixture holding a quiet 440 Hz tone.
func writeTestWAV(t *testing.T, seconds float64, sampleRate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	n := int(seconds * float64(sampleRate))
	data := make([]int, n)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

func analyzedTrack(id, path string, bpm float64) *model.Track {
	return &model.Track{
		PublicID: id,
		Title:    "Fixture",
		FilePath: path,
		Rhythm: model.RhythmData{
			BPM:      bpm,
			BeatGrid: model.BeatGrid{0, 500, 1000, 1500},
		},
	}
}

func onlyDeck(t *testing.T, eng *Engine) deck.Status {
	t.Helper()
	st := eng.Status()
	if len(st.Decks) != 1 {
		t.Fatalf("session holds %d decks, want 1", len(st.Decks))
	}
	return st.Decks[0]
}

// --- Loading ---

func TestLoadRejectsTrackWithoutFile(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	if _, err := eng.Load(context.Background(), &model.Track{PublicID: "t1"}); err == nil {
		t.Error("loaded a track with no local file")
	}
}

func TestLoadRejectsUnsupportedFormat(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	track := &model.Track{PublicID: "t1", FilePath: "/nope/fixture.flac"}
	if _, err := eng.Load(context.Background(), track); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadFillsAudioProperties(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	track := analyzedTrack("t1", writeTestWAV(t, 2, 8000), 120)

	if _, err := eng.Load(context.Background(), track); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if track.SampleRate != 8000 {
		t.Errorf("sample rate %d, want 8000", track.SampleRate)
	}
	if track.Duration < 1.9 || track.Duration > 2.1 {
		t.Errorf("duration %v, want about 2s", track.Duration)
	}
	if len(track.ContentHash) != 64 {
		t.Errorf("content hash %q, want 64 hex chars", track.ContentHash)
	}
	if track.Status != model.StatusCompleted {
		t.Errorf("status %q for a pre-analyzed track, want %q", track.Status, model.StatusCompleted)
	}
}

func TestLoadServesRhythmFromCache(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	var lookedUp string
	storeCalled := false
	eng.SetRhythmHooks(
		func(ctx context.Context, hash string) *model.RhythmData {
			lookedUp = hash
			return &model.RhythmData{BPM: 128, BeatGrid: model.BeatGrid{0, 469, 938}}
		},
		func(ctx context.Context, tr model.Track) { storeCalled = true },
	)

	track := &model.Track{PublicID: "t1", FilePath: writeTestWAV(t, 2, 8000)}
	d, err := eng.Load(context.Background(), track)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	st := d.Status()
	if !st.Analyzed || st.BPM != 128 {
		t.Errorf("cached rhythm not merged: %+v", st)
	}
	if len(lookedUp) != 64 {
		t.Errorf("lookup keyed by %q, want the content hash", lookedUp)
	}
	if storeCalled {
		t.Error("store hook fired for a cache hit")
	}
}

func TestLoadAnalyzesInBackground(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	done := make(chan model.Track, 1)
	eng.SetRhythmHooks(
		func(ctx context.Context, hash string) *model.RhythmData { return nil },
		func(ctx context.Context, tr model.Track) { done <- tr },
	)

	track := &model.Track{PublicID: "t1", FilePath: writeTestWAV(t, 2, 8000)}
	d, err := eng.Load(context.Background(), track)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	select {
	case snap := <-done:
		if snap.Status != model.StatusCompleted {
			t.Errorf("settled status %q, want %q", snap.Status, model.StatusCompleted)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("analysis did not settle")
	}
	if snap := d.TrackSnapshot(); snap.Status != model.StatusCompleted {
		t.Errorf("deck status %q after analysis, want %q", snap.Status, model.StatusCompleted)
	}
}

func TestLoadReplacesExistingDeck(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	path := writeTestWAV(t, 2, 8000)

	if _, err := eng.Load(context.Background(), analyzedTrack("t1", path, 120)); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if _, err := eng.Load(context.Background(), analyzedTrack("t1", path, 120)); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if st := eng.Status(); len(st.Decks) != 1 {
		t.Errorf("session holds %d decks after a reload, want 1", len(st.Decks))
	}
}

// --- Transport ---

func TestEngineTransport(t *testing.T) {
	clk := &clock.ManualClock{}
	eng := newTestEngine(clk)
	track := analyzedTrack("t1", writeTestWAV(t, 2, 8000), 120)
	if _, err := eng.Load(context.Background(), track); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := eng.Play("t1"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st := onlyDeck(t, eng); !st.Playing {
		t.Fatal("deck not playing")
	}

	clk.Advance(1)
	if err := eng.Pause("t1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if st := onlyDeck(t, eng); st.Playing || st.PositionMs != 1000 {
		t.Errorf("after pause: %+v", st)
	}

	if err := eng.Seek("t1", 250); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if st := onlyDeck(t, eng); st.PositionMs != 250 {
		t.Errorf("position %d ms after seek, want 250", st.PositionMs)
	}

	if err := eng.SeekBeat("t1", 2); err != nil {
		t.Fatalf("SeekBeat: %v", err)
	}
	if st := onlyDeck(t, eng); st.PositionMs != 1000 {
		t.Errorf("position %d ms after beat seek, want 1000", st.PositionMs)
	}
	if err := eng.SeekBeat("t1", 99); err == nil {
		t.Error("beat seek past the grid accepted")
	}

	if err := eng.SetVolume("t1", 0.5); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if st := onlyDeck(t, eng); st.Volume != 0.5 {
		t.Errorf("volume %v, want 0.5", st.Volume)
	}
	if err := eng.SetVolume("t1", 1.5); err == nil {
		t.Error("out-of-range volume accepted")
	}
}

func TestEngineOperationsOnUnknownDeck(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	ops := map[string]error{
		"Play":      eng.Play("ghost"),
		"Pause":     eng.Pause("ghost"),
		"Seek":      eng.Seek("ghost", 0),
		"SeekBeat":  eng.SeekBeat("ghost", 0),
		"SetVolume": eng.SetVolume("ghost", 0.5),
		"Unload":    eng.Unload("ghost"),
	}
	for name, err := range ops {
		if !errors.Is(err, ErrDeckNotFound) {
			t.Errorf("%s error = %v, want ErrDeckNotFound", name, err)
		}
	}
}

func TestUnload(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	track := analyzedTrack("t1", writeTestWAV(t, 2, 8000), 120)
	if _, err := eng.Load(context.Background(), track); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := eng.Unload("t1"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if st := eng.Status(); len(st.Decks) != 0 {
		t.Errorf("session holds %d decks after unload, want 0", len(st.Decks))
	}
	if err := eng.Unload("t1"); !errors.Is(err, ErrDeckNotFound) {
		t.Errorf("double unload error = %v, want ErrDeckNotFound", err)
	}
}

// --- Session tempo ---

func TestSetTempoRebasesDecks(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	track := analyzedTrack("t1", writeTestWAV(t, 2, 8000), 100)
	if _, err := eng.Load(context.Background(), track); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := eng.Play("t1"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st := onlyDeck(t, eng); math.Abs(st.BaseRate-1.2) > 1e-9 {
		t.Fatalf("base rate %v at 120 bpm, want 1.2", st.BaseRate)
	}

	if err := eng.SetTempo(150); err != nil {
		t.Fatalf("SetTempo: %v", err)
	}
	if got := eng.Tempo(); got != 150 {
		t.Errorf("session tempo %v, want 150", got)
	}
	if st := onlyDeck(t, eng); math.Abs(st.BaseRate-1.5) > 1e-9 {
		t.Errorf("base rate %v after tempo change, want 1.5", st.BaseRate)
	}

	if err := eng.SetTempo(10); !errors.Is(err, clock.ErrTempoOutOfRange) {
		t.Errorf("error = %v, want ErrTempoOutOfRange", err)
	}
	if got := eng.Tempo(); got != 150 {
		t.Errorf("rejected tempo still applied: %v", got)
	}
}

// --- Clock control ---

func TestStartStopClock(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	defer eng.Shutdown()

	eng.StartClock()
	if st := eng.Status(); !st.Running {
		t.Error("clock not running after StartClock")
	}
	eng.StopClock()
	if st := eng.Status(); st.Running {
		t.Error("clock still running after StopClock")
	}
}

func TestBeatHookReceivesCommittedBeats(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	defer eng.Shutdown()

	beats := make(chan clock.BeatEvent, 4)
	eng.SetBeatHook(func(ev clock.BeatEvent) { beats <- ev })

	eng.StartClock()
	select {
	case ev := <-beats:
		if ev.Number != 1 || ev.Tempo != 120 || !ev.Downbeat {
			t.Errorf("first beat = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no beat delivered")
	}
}

// --- Shutdown ---

func TestShutdownClearsSession(t *testing.T) {
	eng := newTestEngine(&clock.ManualClock{})
	track := analyzedTrack("t1", writeTestWAV(t, 2, 8000), 120)
	if _, err := eng.Load(context.Background(), track); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := eng.Play("t1"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	eng.Shutdown()
	if st := eng.Status(); len(st.Decks) != 0 || st.Running {
		t.Errorf("session not cleared: %+v", st)
	}
}
