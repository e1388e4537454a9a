package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Bt1QMix/core/utils"
	"Bt1QMix/logger"

	"github.com/fsnotify/fsnotify"
)

const (
	// watchSettleDelay is how long a file must go without write events
	// before it is considered fully copied in.
	watchSettleDelay = 2 * time.Second
	watchCheckPeriod = 500 * time.Millisecond
)

// Watcher auto-ingests audio files dropped into the library directory.
type Watcher struct {
	svc  *Service
	dir  string
	stop chan struct{}
	done chan struct{}
}

func NewWatcher(svc *Service, dir string) *Watcher {
	return &Watcher{
		svc:  svc,
		dir:  dir,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start scans the directory once, then watches it until Stop.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create library dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.run(fw)
	logger.Info("watching library directory", logger.String("dir", w.dir))
	return nil
}

func (w *Watcher) run(fw *fsnotify.Watcher) {
	defer close(w.done)
	defer fw.Close()

	w.scanExisting()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && utils.IsAudioFile(ev.Name) {
				pending[ev.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < watchSettleDelay {
					continue // likely still being copied
				}
				delete(pending, path)
				w.ingest(path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn("library watch error", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("failed to scan library dir", logger.ErrorField(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if utils.IsAudioFile(path) {
			w.ingest(path)
		}
	}
}

func (w *Watcher) ingest(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	t, err := w.svc.ImportFile(ctx, path, ImportMeta{})
	if err != nil {
		logger.Warn("failed to ingest watched file",
			logger.String("path", path),
			logger.ErrorField(err))
		return
	}
	logger.Info("ingested from watch folder",
		logger.String("path", path),
		logger.String("trackId", t.PublicID))
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}
