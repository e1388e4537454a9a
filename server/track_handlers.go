package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"Bt1QMix/core/library"
	"Bt1QMix/core/utils"
	"Bt1QMix/logger"
	"Bt1QMix/repository"

	"github.com/gorilla/mux"
)

var nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
var multipleSpaces = regexp.MustCompile(`\s+`)

func sanitizeFilename(name string) string {
	base := strings.TrimSpace(name)
	base = multipleSpaces.ReplaceAllString(base, "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")
	if len(base) > 150 {
		base = base[:150]
	}
	if base == "" {
		base = "untitled"
	}
	return base
}

// ListTracksHandler returns every track in the library, newest first.
func (h *APIHandler) ListTracksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.lib.List())
}

// GetTrackHandler returns one track with its rhythm metadata.
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]
	track, err := h.lib.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrTrackNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to get track: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(track)
}

// UploadTrackHandler ingests a multipart audio upload into the library.
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	// 64MB in memory, the rest spills to temp files.
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse multipart form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("trackFile")
	if err != nil {
		http.Error(w, "Missing 'trackFile' in form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !utils.IsAudioFile(header.Filename) {
		http.Error(w, fmt.Sprintf("Unsupported audio format: %s", ext), http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = utils.TitleFromPath(header.Filename)
	}
	artist := strings.TrimSpace(r.FormValue("artist"))

	var tempoHint float64
	if v := strings.TrimSpace(r.FormValue("bpm")); v != "" {
		if _, err := fmt.Sscanf(v, "%f", &tempoHint); err != nil || tempoHint <= 0 {
			http.Error(w, "Invalid 'bpm' value", http.StatusBadRequest)
			return
		}
	}

	if err := os.MkdirAll(h.cfg.LibraryDir, 0755); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create library directory: %v", err), http.StatusInternalServerError)
		return
	}

	destPath := filepath.Join(h.cfg.LibraryDir, sanitizeFilename(title)+ext)
	if _, err := os.Stat(destPath); err == nil {
		destPath = filepath.Join(h.cfg.LibraryDir,
			fmt.Sprintf("%s_%d%s", sanitizeFilename(title), header.Size, ext))
	}

	dst, err := os.Create(destPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to save track file: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(destPath)
		http.Error(w, fmt.Sprintf("Failed to save track file: %v", err), http.StatusInternalServerError)
		return
	}
	dst.Close()

	track, err := h.lib.ImportFile(r.Context(), destPath, library.ImportMeta{
		Title:     title,
		Artist:    artist,
		TempoHint: tempoHint,
	})
	if err != nil {
		os.Remove(destPath)
		http.Error(w, fmt.Sprintf("Failed to import track: %v", err), http.StatusInternalServerError)
		return
	}

	logger.Info("track uploaded",
		logger.String("trackId", track.PublicID),
		logger.String("title", track.Title),
		logger.String("path", destPath))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"message": "Track uploaded successfully", "track": track})
}

type ingestRequest struct {
	Path   string  `json:"path"`
	Title  string  `json:"title"`
	Artist string  `json:"artist"`
	BPM    float64 `json:"bpm"`
}

// IngestTrackHandler imports an audio file already on the server's disk.
func (h *APIHandler) IngestTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		http.Error(w, "Missing 'path' in request", http.StatusBadRequest)
		return
	}
	if req.BPM < 0 {
		http.Error(w, "Invalid 'bpm' value", http.StatusBadRequest)
		return
	}

	track, err := h.lib.ImportFile(r.Context(), req.Path, library.ImportMeta{
		Title:     req.Title,
		Artist:    req.Artist,
		TempoHint: req.BPM,
	})
	if err != nil {
		if os.IsNotExist(errors.Unwrap(err)) || os.IsNotExist(err) {
			http.Error(w, fmt.Sprintf("File not found: %s", req.Path), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to import track: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"message": "Track imported successfully", "track": track})
}

type tempoHintRequest struct {
	BPM float64 `json:"bpm"`
}

// UpdateTempoHintHandler sets the operator-provided tempo for a track.
func (h *APIHandler) UpdateTempoHintHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "Only PATCH method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]

	var req tempoHintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.lib.UpdateTempoHint(r.Context(), id, req.BPM); err != nil {
		if errors.Is(err, repository.ErrTrackNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to update tempo hint: %v", err), http.StatusBadRequest)
		return
	}

	track, err := h.lib.Get(id)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get track: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(track)
}

// DeleteTrackHandler removes a track from the library and unloads any deck
// that holds it.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Only DELETE method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]

	// Best effort: the track may not be loaded on any deck.
	if err := h.eng.Unload(id); err != nil {
		logger.Debug("no deck to unload for deleted track", logger.String("trackId", id))
	}

	if err := h.lib.Remove(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrTrackNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to delete track: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Track deleted successfully"})
}
