package model

import "time"

// Track analysis status lifecycle.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Track represents an audio track in the mix library. The row is created as
// soon as the file is decoded; rhythm analysis runs asynchronously and its
// result is merged in later, so Status tells clients whether Rhythm is final.
type Track struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	PublicID    string     `json:"publicId" gorm:"size:36;uniqueIndex;not null"` // UUID used by the engine and API
	Title       string     `json:"title" gorm:"size:255;not null"`
	Artist      string     `json:"artist" gorm:"size:255"`
	FilePath    string     `json:"-" gorm:"size:512"` // local path of the decoded source file
	ObjectKey   string     `json:"-" gorm:"size:512"` // object-store key, empty when local only
	ContentHash string     `json:"-" gorm:"size:64;index"`
	Duration    float32    `json:"duration"` // seconds
	SampleRate  int        `json:"sampleRate"`
	TempoHint   float64    `json:"tempoHint"` // caller-supplied prior bpm, 0 = none
	Rhythm      RhythmData `json:"rhythm" gorm:"embedded;embeddedPrefix:rhythm_"`
	Status      string     `json:"status" gorm:"size:20;default:'processing';index"` // processing, completed, failed
	State       int8       `json:"state" gorm:"default:1"`                           // 0=soft deleted, 1=normal
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName pins the table name.
func (Track) TableName() string {
	return "tracks"
}

// EffectiveTempo returns the tempo playback should assume for the track:
// the analyzed BPM once analysis has landed, otherwise the caller-supplied
// hint, otherwise 0 (meaning "match the clock at rate 1.0").
func (t *Track) EffectiveTempo() float64 {
	if t.Rhythm.HasGrid() {
		return t.Rhythm.BPM
	}
	if t.TempoHint > 0 {
		return t.TempoHint
	}
	return 0
}
