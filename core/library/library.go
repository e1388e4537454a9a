package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"Bt1QMix/core/utils"
	"Bt1QMix/logger"
	"Bt1QMix/model"
	"Bt1QMix/repository"
	"Bt1QMix/storage"

	"github.com/google/uuid"
)

// ImportMeta carries optional metadata supplied at import time. Zero fields
// fall back to filename-derived values.
type ImportMeta struct {
	Title     string
	Artist    string
	TempoHint float64
}

// Service maintains the track catalog. The in-memory index is authoritative
// for the running process; the repository and object store, when configured,
// make it durable. Methods hand out copies, never shared pointers.
type Service struct {
	mu     sync.RWMutex
	byID   map[string]model.Track
	byHash map[string]string

	repo  repository.TrackRepository
	store *storage.Store
	dir   string
}

func NewService(repo repository.TrackRepository, store *storage.Store, dir string) *Service {
	return &Service{
		byID:   make(map[string]model.Track),
		byHash: make(map[string]string),
		repo:   repo,
		store:  store,
		dir:    dir,
	}
}

// Restore loads persisted rows into the index at startup. Rows still marked
// processing were left by a run that died mid-analysis; they are flipped to
// failed because no result is coming.
func (s *Service) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	tracks, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore library: %w", err)
	}

	var interrupted []string
	s.mu.Lock()
	for _, t := range tracks {
		if t.Status == model.StatusProcessing {
			t.Status = model.StatusFailed
			interrupted = append(interrupted, t.PublicID)
		}
		s.byID[t.PublicID] = *t
		if t.ContentHash != "" {
			s.byHash[t.ContentHash] = t.PublicID
		}
	}
	s.mu.Unlock()

	for _, id := range interrupted {
		if err := s.repo.UpdateStatus(ctx, id, model.StatusFailed); err != nil {
			logger.Warn("failed to mark interrupted analysis",
				logger.String("trackId", id),
				logger.ErrorField(err))
		}
	}
	logger.Info("library restored",
		logger.Int("tracks", len(tracks)),
		logger.Int("interrupted", len(interrupted)))
	return nil
}

// ImportFile registers a local audio file. Import is idempotent on content:
// a file whose bytes are already in the catalog returns the existing track.
func (s *Service) ImportFile(ctx context.Context, path string, meta ImportMeta) (model.Track, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.Track{}, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return model.Track{}, fmt.Errorf("cannot import %s: %w", path, err)
	}
	if !utils.IsAudioFile(abs) {
		return model.Track{}, fmt.Errorf("unsupported audio file: %s", abs)
	}
	hash, err := utils.FileSHA256(abs)
	if err != nil {
		return model.Track{}, err
	}

	s.mu.Lock()
	if id, ok := s.byHash[hash]; ok {
		existing := s.byID[id]
		s.mu.Unlock()
		logger.Debug("file already in library",
			logger.String("path", abs),
			logger.String("trackId", existing.PublicID))
		return existing, nil
	}
	s.mu.Unlock()

	// Not in this process's index. The repository may still hold the row,
	// left by an earlier run or written by another instance sharing the
	// database.
	if s.repo != nil {
		if row, err := s.repo.GetByContentHash(ctx, hash); err == nil {
			s.mu.Lock()
			s.byID[row.PublicID] = *row
			s.byHash[hash] = row.PublicID
			s.mu.Unlock()
			logger.Info("track adopted from repository",
				logger.String("trackId", row.PublicID),
				logger.String("path", abs))
			return *row, nil
		}
	}

	title := meta.Title
	if title == "" {
		title = utils.TitleFromPath(abs)
	}
	now := time.Now()
	t := model.Track{
		PublicID:    uuid.NewString(),
		Title:       title,
		Artist:      meta.Artist,
		FilePath:    abs,
		ContentHash: hash,
		TempoHint:   meta.TempoHint,
		Status:      model.StatusProcessing,
		State:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.store != nil {
		t.ObjectKey = "tracks/" + hash + strings.ToLower(filepath.Ext(abs))
	}

	s.mu.Lock()
	if id, ok := s.byHash[hash]; ok {
		// a concurrent import of the same bytes won the race
		existing := s.byID[id]
		s.mu.Unlock()
		return existing, nil
	}
	s.byID[t.PublicID] = t
	s.byHash[hash] = t.PublicID
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.PutFile(ctx, t.ObjectKey, abs, contentTypeFor(abs)); err != nil {
			logger.Warn("failed to archive original",
				logger.String("trackId", t.PublicID),
				logger.ErrorField(err))
		}
	}
	if s.repo != nil {
		if err := s.repo.Create(ctx, &t); err != nil {
			logger.Warn("failed to persist track",
				logger.String("trackId", t.PublicID),
				logger.ErrorField(err))
		} else {
			// Create filled the auto-increment key; mirror it in the index.
			s.mu.Lock()
			if cur, ok := s.byID[t.PublicID]; ok {
				cur.ID = t.ID
				s.byID[t.PublicID] = cur
			}
			s.mu.Unlock()
		}
	}

	logger.Info("track imported",
		logger.String("trackId", t.PublicID),
		logger.String("title", t.Title),
		logger.String("path", abs))
	return t, nil
}

// Get returns a copy of a catalog entry.
func (s *Service) Get(id string) (model.Track, error) {
	s.mu.RLock()
	t, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return model.Track{}, fmt.Errorf("%w: %s", repository.ErrTrackNotFound, id)
	}
	return t, nil
}

// List returns catalog copies, newest first.
func (s *Service) List() []model.Track {
	s.mu.RLock()
	out := make([]model.Track, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].PublicID < out[j].PublicID
	})
	return out
}

// Remove soft-deletes a track from the catalog. The archived object, if
// any, is kept.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		delete(s.byHash, t.ContentHash)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrTrackNotFound, id)
	}
	if s.repo != nil {
		if err := s.repo.SoftDelete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete track %s: %w", id, err)
		}
	}
	logger.Info("track removed", logger.String("trackId", id))
	return nil
}

// UpdateTempoHint stores an operator-supplied fallback tempo for a track
// whose analysis has not landed or failed.
func (s *Service) UpdateTempoHint(ctx context.Context, id string, bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("tempo hint %.2f must be positive", bpm)
	}
	s.mu.Lock()
	t, ok := s.byID[id]
	if ok {
		t.TempoHint = bpm
		t.UpdatedAt = time.Now()
		s.byID[id] = t
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrTrackNotFound, id)
	}
	if s.repo != nil {
		if err := s.repo.Update(ctx, &t); err != nil {
			return fmt.Errorf("failed to persist tempo hint: %w", err)
		}
	}
	return nil
}

// ApplyAnalysis reconciles a settled analysis into the catalog and the
// repository. Wired as the engine's rhythm-store hook.
func (s *Service) ApplyAnalysis(ctx context.Context, snapshot model.Track) {
	s.mu.Lock()
	t, ok := s.byID[snapshot.PublicID]
	if ok {
		t.Rhythm = snapshot.Rhythm
		t.Status = snapshot.Status
		t.Duration = snapshot.Duration
		t.SampleRate = snapshot.SampleRate
		t.UpdatedAt = time.Now()
		s.byID[snapshot.PublicID] = t
	}
	s.mu.Unlock()
	if !ok || s.repo == nil {
		return
	}
	if err := s.repo.UpdateRhythm(ctx, &snapshot); err != nil {
		logger.Warn("failed to persist analysis",
			logger.String("trackId", snapshot.PublicID),
			logger.ErrorField(err))
	}
}

// Materialize ensures a track's audio exists on the local disk, restoring
// it from object storage when necessary, and returns the ready copy. A track
// missing from the index but present in the repository is adopted first.
func (s *Service) Materialize(ctx context.Context, id string) (model.Track, error) {
	t, err := s.Get(id)
	if err != nil {
		if s.repo == nil {
			return model.Track{}, err
		}
		row, repoErr := s.repo.GetByPublicID(ctx, id)
		if repoErr != nil {
			return model.Track{}, err
		}
		s.mu.Lock()
		s.byID[row.PublicID] = *row
		if row.ContentHash != "" {
			s.byHash[row.ContentHash] = row.PublicID
		}
		s.mu.Unlock()
		t = *row
	}
	if _, err := os.Stat(t.FilePath); err == nil {
		return t, nil
	}
	if s.store == nil || t.ObjectKey == "" {
		return model.Track{}, fmt.Errorf("file for track %s is missing: %s", id, t.FilePath)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return model.Track{}, fmt.Errorf("failed to create library dir: %w", err)
	}
	dest := filepath.Join(s.dir, "restored_"+filepath.Base(t.ObjectKey))
	if err := s.store.FetchToFile(ctx, t.ObjectKey, dest); err != nil {
		return model.Track{}, err
	}

	s.mu.Lock()
	t = s.byID[id]
	t.FilePath = dest
	t.UpdatedAt = time.Now()
	s.byID[id] = t
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Update(ctx, &t); err != nil {
			logger.Warn("failed to persist restored path",
				logger.String("trackId", id),
				logger.ErrorField(err))
		}
	}
	logger.Info("track restored from object storage",
		logger.String("trackId", id),
		logger.String("path", dest))
	return t, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
