package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"Bt1QMix/core/audio"
	"Bt1QMix/core/clock"
	"Bt1QMix/core/engine"
	"Bt1QMix/logger"
	"Bt1QMix/repository"

	"github.com/gorilla/mux"
)

// EngineStatusHandler returns the session snapshot with per-deck state.
func (h *APIHandler) EngineStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.eng.Status())
}

// LoadTrackHandler decodes a library track onto a deck. Analysis runs in
// the background unless cached rhythm data is available.
func (h *APIHandler) LoadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]
	track, err := h.lib.Materialize(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrTrackNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to materialize track: %v", err), http.StatusInternalServerError)
		return
	}

	d, err := h.eng.Load(r.Context(), &track)
	if err != nil {
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			http.Error(w, fmt.Sprintf("Unsupported audio format: %v", err), http.StatusBadRequest)
			return
		}
		logger.Error("deck load failed",
			logger.String("trackId", id),
			logger.ErrorField(err))
		http.Error(w, fmt.Sprintf("Failed to load track: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.Status())
}

// UnloadTrackHandler removes a deck from the session.
func (h *APIHandler) UnloadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Only DELETE method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.eng.Unload(id); err != nil {
		if errors.Is(err, engine.ErrDeckNotFound) {
			http.Error(w, "Deck not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to unload track: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Track unloaded"})
}

// PlayHandler starts deck playback aligned to the session clock.
func (h *APIHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.eng.Play(id); err != nil {
		if errors.Is(err, engine.ErrDeckNotFound) {
			http.Error(w, "Deck not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to start playback: %v", err), http.StatusInternalServerError)
		return
	}

	h.respondDeckStatus(w, id)
}

// PauseHandler freezes a deck at its current position.
func (h *APIHandler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.eng.Pause(id); err != nil {
		if errors.Is(err, engine.ErrDeckNotFound) {
			http.Error(w, "Deck not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to pause playback: %v", err), http.StatusInternalServerError)
		return
	}

	h.respondDeckStatus(w, id)
}

type seekRequest struct {
	PositionMs *int64 `json:"positionMs"`
	BeatIndex  *int   `json:"beatIndex"`
}

// SeekHandler moves the deck cursor by millisecond position or beat index.
func (h *APIHandler) SeekHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]

	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.BeatIndex != nil:
		err = h.eng.SeekBeat(id, *req.BeatIndex)
	case req.PositionMs != nil:
		err = h.eng.Seek(id, *req.PositionMs)
	default:
		http.Error(w, "Request must include 'positionMs' or 'beatIndex'", http.StatusBadRequest)
		return
	}

	if err != nil {
		if errors.Is(err, engine.ErrDeckNotFound) {
			http.Error(w, "Deck not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Seek failed: %v", err), http.StatusBadRequest)
		return
	}

	h.respondDeckStatus(w, id)
}

type volumeRequest struct {
	Gain float64 `json:"gain"`
}

// VolumeHandler sets per-deck gain in [0, 1].
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	id := mux.Vars(r)["id"]

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.eng.SetVolume(id, req.Gain); err != nil {
		if errors.Is(err, engine.ErrDeckNotFound) {
			http.Error(w, "Deck not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to set volume: %v", err), http.StatusBadRequest)
		return
	}

	h.respondDeckStatus(w, id)
}

func (h *APIHandler) respondDeckStatus(w http.ResponseWriter, trackID string) {
	st := h.eng.Status()
	w.Header().Set("Content-Type", "application/json")
	for _, d := range st.Decks {
		if d.TrackID == trackID {
			json.NewEncoder(w).Encode(d)
			return
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

type clockResponse struct {
	Tempo     float64 `json:"tempo"`
	Running   bool    `json:"running"`
	BeatCount int64   `json:"beatCount"`
	Clients   int     `json:"clients"`
}

// ClockHandler reports the metronome state.
func (h *APIHandler) ClockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	st := h.eng.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(clockResponse{
		Tempo:     st.Tempo,
		Running:   st.Running,
		BeatCount: st.BeatCount,
		Clients:   h.hub.ClientCount(),
	})
}

type tempoRequest struct {
	BPM float64 `json:"bpm"`
}

// ClockTempoHandler changes the session tempo. Committed beats keep their
// times; the new tempo applies from the next scheduled beat.
func (h *APIHandler) ClockTempoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tempoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.eng.SetTempo(req.BPM); err != nil {
		if errors.Is(err, clock.ErrTempoOutOfRange) {
			http.Error(w, fmt.Sprintf("Tempo out of range: %v", err), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to set tempo: %v", err), http.StatusInternalServerError)
		return
	}

	logger.Info("session tempo changed", logger.Float64("bpm", req.BPM))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float64{"tempo": h.eng.Tempo()})
}

// ClockStartHandler resumes beat scheduling.
func (h *APIHandler) ClockStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.eng.StartClock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Clock started"})
}

// ClockStopHandler halts beat scheduling without touching deck transport.
func (h *APIHandler) ClockStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.eng.StopClock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Clock stopped"})
}
