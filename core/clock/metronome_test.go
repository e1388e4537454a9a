package clock

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Tempo:      120,
		MinTempo:   60,
		MaxTempo:   200,
		Lookahead:  0.1,
		TickPeriod: 5 * time.Millisecond,
	}
}

// testMetronome returns a metronome in the running state whose passes are
// driven by hand, plus the collected beat events.
func testMetronome(clk *ManualClock) (*Metronome, *[]BeatEvent) {
	m := NewMetronome(clk, testConfig())
	events := &[]BeatEvent{}
	m.Subscribe(func(ev BeatEvent) {
		*events = append(*events, ev)
	})
	m.running = true
	m.next = clk.Now()
	return m, events
}

// --- Scheduling passes ---

func TestPassFiresDueBeat(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)

	m.pass()

	if len(*events) != 1 {
		t.Fatalf("got %d events, want 1", len(*events))
	}
	ev := (*events)[0]
	if ev.Number != 1 {
		t.Errorf("beat number %d, want 1", ev.Number)
	}
	if ev.Time != 0 {
		t.Errorf("beat time %v, want 0", ev.Time)
	}
	if ev.Tempo != 120 {
		t.Errorf("beat tempo %v, want 120", ev.Tempo)
	}
	if !ev.Downbeat {
		t.Error("beat 1 should be a downbeat")
	}
}

func TestPassFiresAtMostOneBeat(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)

	// Both the beat at 0 and the beat at 0.5 fall inside the window now,
	// but a single pass fires only the oldest.
	clk.Set(0.45)
	m.pass()
	if len(*events) != 1 {
		t.Fatalf("one pass fired %d beats, want 1", len(*events))
	}
	if ev := (*events)[0]; ev.Time != 0 {
		t.Errorf("fired beat time %v, want the oldest committed 0", ev.Time)
	}
}

func TestPassHonorsLookahead(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)

	m.pass() // beat 1 at t=0; next committed for t=0.5

	clk.Set(0.3)
	m.pass()
	if len(*events) != 1 {
		t.Fatalf("beat fired outside look-ahead: next is 0.5, now 0.3, window 0.1")
	}

	// 0.45 + 0.1 reaches the 0.5 beat: it fires early, stamped with its
	// scheduled future time.
	clk.Set(0.45)
	m.pass()
	if len(*events) != 2 {
		t.Fatalf("beat not fired inside look-ahead window")
	}
	if ev := (*events)[1]; ev.Time != 0.5 {
		t.Errorf("beat time %v, want the committed 0.5", ev.Time)
	}
}

func TestPassReanchorsAfterClockJump(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)

	m.pass() // beat 1 at 0
	clk.Set(10)
	m.pass()

	if len(*events) != 2 {
		t.Fatalf("got %d events, want 2: a clock jump must not replay stale beats", len(*events))
	}
	ev := (*events)[1]
	if ev.Number != 2 {
		t.Errorf("beat number %d after jump, want contiguous 2", ev.Number)
	}
	if ev.Time != 10 {
		t.Errorf("re-anchored beat time %v, want 10", ev.Time)
	}
}

func TestPassWhenStopped(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)
	m.running = false

	m.pass()
	if len(*events) != 0 {
		t.Errorf("stopped metronome fired %d beats", len(*events))
	}
}

// --- Tempo ---

func TestSetTempoKeepsCommittedBeat(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)

	m.pass() // beat 1 at 0, beat 2 committed for 0.5

	if err := m.SetTempo(60); err != nil {
		t.Fatalf("SetTempo: %v", err)
	}

	clk.Set(0.5)
	m.pass()
	clk.Set(1.5)
	m.pass()

	if len(*events) != 3 {
		t.Fatalf("got %d events, want 3", len(*events))
	}
	if ev := (*events)[1]; ev.Time != 0.5 {
		t.Errorf("committed beat moved to %v after tempo change, want 0.5", ev.Time)
	}
	if ev := (*events)[2]; ev.Time != 1.5 {
		t.Errorf("first beat at the new tempo at %v, want 1.5", ev.Time)
	}
}

func TestSetTempoRejectsOutOfRange(t *testing.T) {
	m := NewMetronome(&ManualClock{}, testConfig())

	for _, bpm := range []float64{59.9, 200.1, 0, -10} {
		if err := m.SetTempo(bpm); !errors.Is(err, ErrTempoOutOfRange) {
			t.Errorf("SetTempo(%v) = %v, want ErrTempoOutOfRange", bpm, err)
		}
	}
	if got := m.Tempo(); got != 120 {
		t.Errorf("tempo %v after rejected changes, want unchanged 120", got)
	}

	for _, bpm := range []float64{60, 200, 174} {
		if err := m.SetTempo(bpm); err != nil {
			t.Errorf("SetTempo(%v) = %v, want nil", bpm, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewMetronome(&ManualClock{}, Config{})
	if got := m.Tempo(); got != 120 {
		t.Errorf("default tempo %v, want 120", got)
	}
	if m.cfg.MinTempo != 60 || m.cfg.MaxTempo != 200 {
		t.Errorf("default range [%v, %v], want [60, 200]", m.cfg.MinTempo, m.cfg.MaxTempo)
	}
}

// --- Numbering across Stop/Start ---

func TestStopStartContinuesNumbering(t *testing.T) {
	clk := &ManualClock{}
	m := NewMetronome(clk, testConfig())

	numbers := make(chan int64, 16)
	m.Subscribe(func(ev BeatEvent) {
		numbers <- ev.Number
	})

	// The frozen clock admits exactly one beat per Start.
	m.Start()
	first := <-numbers
	m.Stop()

	if first != 1 {
		t.Errorf("first beat number %d, want 1", first)
	}
	if m.Running() {
		t.Error("Running() true after Stop")
	}
	if got := m.BeatCount(); got != 1 {
		t.Errorf("BeatCount() %d after Stop, want preserved 1", got)
	}

	m.Start()
	second := <-numbers
	m.Stop()

	if second != 2 {
		t.Errorf("beat number %d after restart, want contiguous 2", second)
	}
}

func TestDownbeatEveryFourBeats(t *testing.T) {
	clk := &ManualClock{}
	m, events := testMetronome(clk)

	for i := 0; i < 8; i++ {
		clk.Set(float64(i) * 0.5)
		m.pass()
	}

	if len(*events) != 8 {
		t.Fatalf("got %d events, want 8", len(*events))
	}
	for _, ev := range *events {
		want := ev.Number%4 == 1
		if ev.Downbeat != want {
			t.Errorf("beat %d downbeat = %v, want %v", ev.Number, ev.Downbeat, want)
		}
	}
}

// --- Subscriptions ---

func TestUnsubscribeStopsDelivery(t *testing.T) {
	clk := &ManualClock{}
	m := NewMetronome(clk, testConfig())

	var first, second int
	id := m.Subscribe(func(BeatEvent) { first++ })
	m.Subscribe(func(BeatEvent) { second++ })
	m.running = true
	m.next = clk.Now()

	m.pass()
	m.Unsubscribe(id)
	m.Unsubscribe(id) // second removal of the same id is a no-op
	clk.Set(0.5)
	m.pass()

	if first != 1 {
		t.Errorf("unsubscribed handler saw %d beats, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining handler saw %d beats, want 2", second)
	}
}
