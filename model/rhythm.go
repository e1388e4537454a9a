package model

import (
	"database/sql/driver"
	"encoding/json"
)

// Phrase is a multi-bar section of a track bounded by a significant change in
// onset energy. Boundaries land on beat-grid entries at bar starts.
type Phrase struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
}

// BeatGrid is the ordered list of fitted beat timestamps in milliseconds.
// Entries are strictly increasing and bounded by the track duration. Stored
// as a JSON column.
type BeatGrid []int64

// Scan implements sql.Scanner.
func (g *BeatGrid) Scan(value interface{}) error {
	if value == nil {
		*g = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*g = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*g = nil
		return nil
	}
	return json.Unmarshal(bytes, g)
}

// Value implements driver.Valuer.
func (g BeatGrid) Value() (driver.Value, error) {
	if g == nil {
		return nil, nil
	}
	return json.Marshal(g)
}

// PhraseList is stored as a JSON column.
type PhraseList []Phrase

// Scan implements sql.Scanner.
func (p *PhraseList) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*p = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*p = nil
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Value implements driver.Valuer.
func (p PhraseList) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// RhythmData is the full analysis result for one track: detected tempo, the
// fitted beat grid, which grid index (mod 4) starts a bar, and the phrase
// segmentation. A zero BPM with an empty grid means analysis found no usable
// rhythm; playback then falls back to rate 1.0 against the clock tempo.
type RhythmData struct {
	BPM            float64    `json:"bpm"`
	BeatGrid       BeatGrid   `json:"beatGrid" gorm:"type:json"`
	DownbeatOffset int        `json:"downbeatOffset"`
	Phrases        PhraseList `json:"phrases" gorm:"type:json"`
}

// HasGrid reports whether analysis produced a usable beat grid.
func (r *RhythmData) HasGrid() bool {
	return r != nil && r.BPM > 0 && len(r.BeatGrid) > 0
}

// BeatIntervalMs returns the grid spacing in milliseconds, or 0 when no
// tempo was detected.
func (r *RhythmData) BeatIntervalMs() float64 {
	if r == nil || r.BPM <= 0 {
		return 0
	}
	return 60000.0 / r.BPM
}

// Downbeats returns the subset of grid entries that start a bar.
func (r *RhythmData) Downbeats() []int64 {
	if r == nil || len(r.BeatGrid) == 0 {
		return nil
	}
	out := make([]int64, 0, len(r.BeatGrid)/4+1)
	for i := r.DownbeatOffset; i < len(r.BeatGrid); i += 4 {
		out = append(out, r.BeatGrid[i])
	}
	return out
}
