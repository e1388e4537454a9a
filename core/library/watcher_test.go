package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForTracks(t *testing.T, svc *Service, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(svc.List()) == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("catalog holds %d tracks, want %d", len(svc.List()), want)
}

func TestWatcherIngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeAudioFile(t, dir, "preexisting.wav", "RIFFdata")
	writeAudioFile(t, dir, "readme.txt", "not audio")

	svc := newTestService()
	w := NewWatcher(svc, dir)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitForTracks(t, svc, 1, 3*time.Second)
	tracks := svc.List()
	if tracks[0].Title != "preexisting" {
		t.Errorf("title %q, want preexisting", tracks[0].Title)
	}
}

func TestWatcherIngestsDroppedFile(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the copy settle delay")
	}
	dir := t.TempDir()
	svc := newTestService()
	w := NewWatcher(svc, dir)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Give the watch a moment to register, then drop a file in.
	time.Sleep(100 * time.Millisecond)
	writeAudioFile(t, dir, "dropped.wav", "RIFFdata")

	// Ingest happens only after the file has settled for watchSettleDelay.
	waitForTracks(t, svc, 1, watchSettleDelay+4*time.Second)
}

func TestWatcherStartOnMissingDirCreatesIt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "library")
	svc := newTestService()
	w := NewWatcher(svc, dir)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("library dir not created: %v", err)
	}
}
