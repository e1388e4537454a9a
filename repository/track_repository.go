package repository

import (
	"context"
	"errors"
	"fmt"

	"Bt1QMix/model"

	"gorm.io/gorm"
)

// ErrTrackNotFound is returned by getters when no live row matches.
var ErrTrackNotFound = errors.New("track not found")

// TrackRepository defines the interface for track catalog persistence.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	GetByPublicID(ctx context.Context, publicID string) (*model.Track, error)
	GetByContentHash(ctx context.Context, hash string) (*model.Track, error)
	List(ctx context.Context) ([]*model.Track, error)
	Update(ctx context.Context, track *model.Track) error
	UpdateRhythm(ctx context.Context, track *model.Track) error
	UpdateStatus(ctx context.Context, publicID string, status string) error
	SoftDelete(ctx context.Context, publicID string) error
}

// gormTrackRepository is the GORM implementation.
type gormTrackRepository struct {
	db *gorm.DB
}

func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	return r.db.WithContext(ctx).Create(track).Error
}

func (r *gormTrackRepository) GetByPublicID(ctx context.Context, publicID string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Where("public_id = ? AND state = 1", publicID).
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrackNotFound
		}
		return nil, err
	}
	return &track, nil
}

func (r *gormTrackRepository) GetByContentHash(ctx context.Context, hash string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Where("content_hash = ? AND state = 1", hash).
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrackNotFound
		}
		return nil, err
	}
	return &track, nil
}

func (r *gormTrackRepository) List(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Where("state = 1").
		Order("created_at DESC").
		Find(&tracks).Error
	if err != nil {
		return nil, err
	}
	return tracks, nil
}

// Update writes every column of the row matching the track's public ID.
// Rows are addressed by public_id throughout: in-memory copies do not always
// carry the auto-increment primary key.
func (r *gormTrackRepository) Update(ctx context.Context, track *model.Track) error {
	return r.db.WithContext(ctx).Model(&model.Track{}).
		Where("public_id = ? AND state = 1", track.PublicID).
		Select("*").Omit("id", "created_at").
		Updates(track).Error
}

// UpdateRhythm stores a settled analysis: the rhythm columns plus the audio
// properties the decode pass filled in. Load-modify-save keeps the embedded
// columns consistent even when the result carries zero values.
func (r *gormTrackRepository) UpdateRhythm(ctx context.Context, track *model.Track) error {
	var row model.Track
	err := r.db.WithContext(ctx).
		Where("public_id = ? AND state = 1", track.PublicID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTrackNotFound, track.PublicID)
		}
		return err
	}
	row.Rhythm = track.Rhythm
	row.Status = track.Status
	row.Duration = track.Duration
	row.SampleRate = track.SampleRate
	return r.db.WithContext(ctx).Save(&row).Error
}

func (r *gormTrackRepository) UpdateStatus(ctx context.Context, publicID string, status string) error {
	return r.db.WithContext(ctx).Model(&model.Track{}).
		Where("public_id = ?", publicID).
		Update("status", status).Error
}

func (r *gormTrackRepository) SoftDelete(ctx context.Context, publicID string) error {
	return r.db.WithContext(ctx).Model(&model.Track{}).
		Where("public_id = ?", publicID).
		Update("state", 0).Error
}
