package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"Bt1QMix/config"
	"Bt1QMix/core/analysis"
	"Bt1QMix/core/audio"
	"Bt1QMix/core/clock"
	"Bt1QMix/core/deck"
	"Bt1QMix/core/utils"
	"Bt1QMix/logger"
	"Bt1QMix/model"
)

// ErrDeckNotFound is returned when an operation names a track that is not
// loaded into the session.
var ErrDeckNotFound = errors.New("deck not found")

// RhythmLookup resolves a previously computed analysis by content hash.
// Returning nil means a fresh analysis is required.
type RhythmLookup func(ctx context.Context, contentHash string) *model.RhythmData

// RhythmStore persists a track snapshot after its analysis settles,
// whether it completed or failed.
type RhythmStore func(ctx context.Context, t model.Track)

// Engine is one playback session: a metronome, the decks loaded into it,
// and the analysis pipeline that feeds them. All methods are safe for
// concurrent use by API handlers.
type Engine struct {
	mu        sync.Mutex
	cfg       *config.Config
	clk       clock.Clock
	met       *clock.Metronome
	out       deck.Output
	dec       *audio.Decoder
	analyzer  *analysis.Analyzer
	corrector deck.Corrector
	decks     map[string]*deck.Deck

	rhythmLookup RhythmLookup
	rhythmStore  RhythmStore
	beatHook     func(clock.BeatEvent)
	clicker      *deck.Clicker
}

// SessionStatus is the full-session snapshot for the control API.
type SessionStatus struct {
	Tempo     float64       `json:"tempo"`
	Running   bool          `json:"running"`
	BeatCount int64         `json:"beatCount"`
	Decks     []deck.Status `json:"decks"`
}

func New(cfg *config.Config, clk clock.Clock, out deck.Output) *Engine {
	met := clock.NewMetronome(clk, clock.Config{
		Tempo:      cfg.DefaultTempo,
		MinTempo:   cfg.MinTempo,
		MaxTempo:   cfg.MaxTempo,
		Lookahead:  float64(cfg.LookaheadMs) / 1000,
		TickPeriod: time.Duration(cfg.TickPeriodMs) * time.Millisecond,
	})
	params := analysis.DefaultParams()
	params.Window = cfg.AnalysisWindow
	params.Hop = cfg.AnalysisHop
	params.ChunkFrames = cfg.AnalysisChunkFrames
	params.OnsetThreshold = cfg.OnsetThreshold
	params.MinTempo = cfg.MinTempo
	params.MaxTempo = cfg.MaxTempo

	e := &Engine{
		cfg:       cfg,
		clk:       clk,
		met:       met,
		out:       out,
		dec:       audio.NewDecoder(cfg.FFmpegPath),
		analyzer:  analysis.NewAnalyzer(params),
		corrector: deck.Corrector{MaxCorrection: cfg.MaxCorrection, Blend: cfg.CorrectionBlend},
		decks:     make(map[string]*deck.Deck),
	}
	met.Subscribe(e.onBeat)
	return e
}

// SetRhythmHooks wires optional analysis persistence. Call before Start.
func (e *Engine) SetRhythmHooks(lookup RhythmLookup, store RhythmStore) {
	e.rhythmLookup = lookup
	e.rhythmStore = store
}

// SetBeatHook registers an extra beat-event consumer, such as a broadcast
// hub. Call before Start.
func (e *Engine) SetBeatHook(fn func(clock.BeatEvent)) {
	e.beatHook = fn
}

// EnableClick attaches the monitor click. Requires a live speaker output.
func (e *Engine) EnableClick() {
	e.clicker = deck.NewClicker(e.clk, e.cfg.EngineSampleRate)
}

// Start runs the metronome. Decks can be loaded before or after.
func (e *Engine) Start() {
	e.met.Start()
	logger.Info("engine started",
		logger.Float64("tempo", e.met.Tempo()),
		logger.Int("lookaheadMs", e.cfg.LookaheadMs))
}

// Shutdown closes every deck and the metronome, then releases the output.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	decks := e.decks
	e.decks = make(map[string]*deck.Deck)
	e.mu.Unlock()
	for _, d := range decks {
		d.Close()
	}
	e.met.Stop()
	if err := e.out.Close(); err != nil {
		logger.Warn("failed to close output", logger.ErrorField(err))
	}
	logger.Info("engine stopped")
}

// Load decodes the track's file, binds it to a deck, and resolves its
// rhythm: from the track itself, from the lookup hook, or by scheduling a
// background analysis. Loading the same track again replaces its deck.
func (e *Engine) Load(ctx context.Context, t *model.Track) (*deck.Deck, error) {
	if t.FilePath == "" {
		return nil, fmt.Errorf("track %s has no local file", t.PublicID)
	}
	buf, err := e.dec.Decode(t.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", t.FilePath, err)
	}
	if t.SampleRate == 0 {
		t.SampleRate = buf.SampleRate
	}
	if t.Duration == 0 {
		t.Duration = float32(buf.Seconds())
	}
	if t.ContentHash == "" {
		hash, err := utils.FileSHA256(t.FilePath)
		if err != nil {
			return nil, err
		}
		t.ContentHash = hash
	}

	src, err := e.out.NewSource(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	d := deck.NewDeck(t, buf, src, e.clk, e.corrector)

	e.mu.Lock()
	if prev, ok := e.decks[t.PublicID]; ok {
		prev.Close()
	}
	e.decks[t.PublicID] = d
	e.mu.Unlock()

	switch {
	case t.Rhythm.HasGrid():
		t.Status = model.StatusCompleted
	case e.rhythmLookup != nil && e.lookupRhythm(ctx, t, d):
		// served from cache
	default:
		t.Status = model.StatusProcessing
		go e.analyze(d, buf)
	}

	logger.Info("track loaded",
		logger.String("trackId", t.PublicID),
		logger.String("title", t.Title),
		logger.Float64("bpm", t.EffectiveTempo()),
		logger.String("status", t.Status))
	return d, nil
}

func (e *Engine) lookupRhythm(ctx context.Context, t *model.Track, d *deck.Deck) bool {
	rd := e.rhythmLookup(ctx, t.ContentHash)
	if rd == nil || !rd.HasGrid() {
		return false
	}
	d.MergeRhythm(rd, e.met.Tempo())
	logger.Debug("rhythm served from cache", logger.String("trackId", t.PublicID))
	return true
}

// analyze runs the pipeline off the scheduling path and merges the result
// into the live deck when done.
func (e *Engine) analyze(d *deck.Deck, buf *audio.Buffer) {
	ctx := context.Background()
	t := d.Track()
	started := time.Now()
	rd, err := e.analyzer.Analyze(ctx, buf)
	if err != nil {
		logger.Error("track analysis failed",
			logger.String("trackId", t.PublicID),
			logger.ErrorField(err))
		d.MarkAnalysisFailed()
	} else {
		d.MergeRhythm(rd, e.met.Tempo())
		logger.Info("track analysis completed",
			logger.String("trackId", t.PublicID),
			logger.Float64("bpm", rd.BPM),
			logger.Int("beats", len(rd.BeatGrid)),
			logger.Duration("elapsed", time.Since(started)))
	}
	if e.rhythmStore != nil {
		e.rhythmStore(ctx, d.TrackSnapshot())
	}
}

// Unload closes a deck and removes it from the session.
func (e *Engine) Unload(trackID string) error {
	e.mu.Lock()
	d, ok := e.decks[trackID]
	if ok {
		delete(e.decks, trackID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeckNotFound, trackID)
	}
	d.Close()
	return nil
}

// Play starts a loaded deck, rate-locked to the session tempo.
func (e *Engine) Play(trackID string) error {
	d, err := e.deckByID(trackID)
	if err != nil {
		return err
	}
	return d.Play(e.met.Tempo())
}

// Pause halts a deck, keeping its position.
func (e *Engine) Pause(trackID string) error {
	d, err := e.deckByID(trackID)
	if err != nil {
		return err
	}
	d.Pause()
	return nil
}

// Seek moves a deck's playhead to a millisecond position.
func (e *Engine) Seek(trackID string, positionMs int64) error {
	d, err := e.deckByID(trackID)
	if err != nil {
		return err
	}
	return d.Seek(float64(positionMs) / 1000)
}

// SeekBeat moves a deck's playhead to a beat-grid entry. Requires a
// completed analysis.
func (e *Engine) SeekBeat(trackID string, beatIndex int) error {
	d, err := e.deckByID(trackID)
	if err != nil {
		return err
	}
	pos, ok := d.BeatTime(beatIndex)
	if !ok {
		return fmt.Errorf("track %s has no beat %d", trackID, beatIndex)
	}
	return d.Seek(pos)
}

// SetVolume sets a deck's gain in [0, 1].
func (e *Engine) SetVolume(trackID string, gain float64) error {
	d, err := e.deckByID(trackID)
	if err != nil {
		return err
	}
	return d.SetVolume(gain)
}

// SetTempo changes the session tempo and rebases every deck on it. Beats
// already committed by the metronome keep their times.
func (e *Engine) SetTempo(bpm float64) error {
	if err := e.met.SetTempo(bpm); err != nil {
		return err
	}
	for _, d := range e.deckList() {
		d.SetTempo(bpm)
	}
	logger.Info("session tempo changed", logger.Float64("tempo", bpm))
	return nil
}

// Tempo returns the session tempo in BPM.
func (e *Engine) Tempo() float64 { return e.met.Tempo() }

// StartClock resumes beat scheduling after a StopClock. Playing decks keep
// their position; beat numbering continues where it left off.
func (e *Engine) StartClock() { e.met.Start() }

// StopClock halts beat scheduling. Decks keep playing at their last
// scheduled rate but receive no further corrections.
func (e *Engine) StopClock() { e.met.Stop() }

// Status snapshots the session, decks ordered by track id.
func (e *Engine) Status() SessionStatus {
	decks := e.deckList()
	st := SessionStatus{
		Tempo:     e.met.Tempo(),
		Running:   e.met.Running(),
		BeatCount: e.met.BeatCount(),
		Decks:     make([]deck.Status, 0, len(decks)),
	}
	for _, d := range decks {
		st.Decks = append(st.Decks, d.Status())
	}
	sort.Slice(st.Decks, func(i, j int) bool { return st.Decks[i].TrackID < st.Decks[j].TrackID })
	return st
}

// onBeat fans each committed beat out to the decks, the click, and any
// registered hook. Runs on the metronome goroutine.
func (e *Engine) onBeat(ev clock.BeatEvent) {
	for _, d := range e.deckList() {
		d.OnBeat(ev)
	}
	if e.clicker != nil {
		e.clicker.OnBeat(ev)
	}
	if e.beatHook != nil {
		e.beatHook(ev)
	}
}

func (e *Engine) deckByID(trackID string) (*deck.Deck, error) {
	e.mu.Lock()
	d, ok := e.decks[trackID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, trackID)
	}
	return d, nil
}

func (e *Engine) deckList() []*deck.Deck {
	e.mu.Lock()
	out := make([]*deck.Deck, 0, len(e.decks))
	for _, d := range e.decks {
		out = append(out, d)
	}
	e.mu.Unlock()
	return out
}
