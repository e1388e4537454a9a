package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"Bt1QMix/logger"
)

// ErrTempoOutOfRange rejects tempo values outside the configured bounds.
// Values are never clamped silently.
var ErrTempoOutOfRange = errors.New("tempo out of range")

// BeatEvent is one metronome pulse. Time is the scheduled clock time of the
// beat, which can be up to the look-ahead window in the future when the event
// is delivered. Number increases by exactly 1 per beat and never resets while
// the metronome lives. Downbeat is a presentation convention (Number mod 4 ==
// 1); synchronization never depends on it.
type BeatEvent struct {
	Number   int64
	Time     float64
	Tempo    float64
	Downbeat bool
}

// Handler receives beat events. Handlers run on the metronome's scheduling
// goroutine in subscription (FIFO) order and must return quickly.
type Handler func(BeatEvent)

// Config bounds and paces the metronome.
type Config struct {
	Tempo      float64 // initial bpm
	MinTempo   float64
	MaxTempo   float64
	Lookahead  float64       // seconds ahead of "now" a beat may fire
	TickPeriod time.Duration // scheduling pass period
}

// DefaultConfig matches the engine defaults: 120 bpm in [60, 200], 100ms
// look-ahead, 25ms passes.
func DefaultConfig() Config {
	return Config{
		Tempo:      120,
		MinTempo:   60,
		MaxTempo:   200,
		Lookahead:  0.1,
		TickPeriod: 25 * time.Millisecond,
	}
}

type subscription struct {
	id int64
	fn Handler
}

// Metronome is the single timing source every deck synchronizes to: a
// self-rescheduling pulse generator at a mutable tempo. One instance exists
// per engine session and is passed explicitly to every consumer.
//
// While running, a scheduling pass fires at most one due beat (a beat is due
// when its committed time falls inside the look-ahead window), then advances
// the cursor by the current beat interval. Tempo changes leave the already
// committed next beat untouched and take effect from the beat after it.
type Metronome struct {
	mu      sync.Mutex
	clk     Clock
	cfg     Config
	tempo   float64
	running bool
	next    float64 // committed time of the next beat
	beatNum int64
	subs    []subscription
	nextSub int64
	stop    chan struct{}
	done    sync.WaitGroup
}

// NewMetronome creates a stopped metronome on the given clock.
func NewMetronome(clk Clock, cfg Config) *Metronome {
	def := DefaultConfig()
	if cfg.Tempo <= 0 {
		cfg.Tempo = def.Tempo
	}
	if cfg.MinTempo <= 0 {
		cfg.MinTempo = def.MinTempo
	}
	if cfg.MaxTempo <= cfg.MinTempo {
		cfg.MaxTempo = def.MaxTempo
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = def.Lookahead
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = def.TickPeriod
	}
	return &Metronome{
		clk:   clk,
		cfg:   cfg,
		tempo: cfg.Tempo,
	}
}

// Start begins scheduling beats. The first beat is committed at the moment of
// the call. Starting a running metronome is a no-op.
func (m *Metronome) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.next = m.clk.Now()
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	m.done.Add(1)
	go m.run(stop)

	logger.Info("metronome started", logger.Float64("tempo", m.Tempo()))
}

// Stop halts all future beats. Decks keep whatever rate they last applied.
// The beat counter is preserved, so a later Start continues the numbering.
func (m *Metronome) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.done.Wait()
	logger.Info("metronome stopped", logger.Int64("beats", m.BeatCount()))
}

func (m *Metronome) run(stop chan struct{}) {
	defer m.done.Done()
	ticker := time.NewTicker(m.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.pass()
		}
	}
}

// pass is one scheduling iteration: fire the next beat if it is due within
// the look-ahead window, then advance the cursor. Handlers are invoked
// outside the lock so they may subscribe or unsubscribe freely.
func (m *Metronome) pass() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	now := m.clk.Now()
	interval := 60.0 / m.tempo

	// A clock discontinuity (suspend/resume) far beyond one interval would
	// otherwise replay a burst of stale beats; re-anchor instead. Numbering
	// stays contiguous.
	if m.next < now-(interval+m.cfg.Lookahead) {
		m.next = now
	}

	var ev BeatEvent
	fired := false
	if now+m.cfg.Lookahead >= m.next {
		m.beatNum++
		ev = BeatEvent{
			Number:   m.beatNum,
			Time:     m.next,
			Tempo:    m.tempo,
			Downbeat: m.beatNum%4 == 1,
		}
		m.next += interval
		fired = true
	}
	var subs []subscription
	if fired {
		subs = make([]subscription, len(m.subs))
		copy(subs, m.subs)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Tempo returns the current bpm.
func (m *Metronome) Tempo() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tempo
}

// SetTempo changes the bpm, rejecting values outside the configured range.
// Valid in any state; only beats scheduled after the change use the new
// interval.
func (m *Metronome) SetTempo(bpm float64) error {
	if bpm < m.cfg.MinTempo || bpm > m.cfg.MaxTempo {
		return fmt.Errorf("%w: %.1f not in [%.0f, %.0f]",
			ErrTempoOutOfRange, bpm, m.cfg.MinTempo, m.cfg.MaxTempo)
	}
	m.mu.Lock()
	m.tempo = bpm
	m.mu.Unlock()
	logger.Info("tempo changed", logger.Float64("bpm", bpm))
	return nil
}

// Running reports whether beats are being scheduled.
func (m *Metronome) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// BeatCount returns the number of the most recently fired beat.
func (m *Metronome) BeatCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beatNum
}

// Subscribe registers a beat handler and returns its subscription id.
// Delivery order follows subscription order.
func (m *Metronome) Subscribe(fn Handler) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	m.subs = append(m.subs, subscription{id: m.nextSub, fn: fn})
	return m.nextSub
}

// Unsubscribe removes a handler. Unknown ids are ignored, so calling it twice
// or from inside a handler is safe.
func (m *Metronome) Unsubscribe(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}
