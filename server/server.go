package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Bt1QMix/cache"
	"Bt1QMix/config"
	"Bt1QMix/core/auth"
	"Bt1QMix/core/clock"
	"Bt1QMix/core/deck"
	"Bt1QMix/core/engine"
	"Bt1QMix/core/library"
	"Bt1QMix/db"
	"Bt1QMix/logger"
	"Bt1QMix/model"
	"Bt1QMix/repository"
	"Bt1QMix/storage"

	"github.com/gorilla/mux"
)

// Start wires the playback engine, the track library and the HTTP control
// surface together and blocks until an interrupt.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
	defer logger.Sync()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Persistence tier is optional. Without MySQL the library lives only in
	// memory and is rebuilt from the watch directory on restart.
	var trackRepo repository.TrackRepository
	if cfg.DBEnabled {
		if err := db.Connect(cfg); err != nil {
			logger.Fatal("failed to connect to database", logger.ErrorField(err))
		}
		defer db.Close()
		if err := db.AutoMigrate(&model.Track{}); err != nil {
			logger.Fatal("failed to migrate database schema", logger.ErrorField(err))
		}
		trackRepo = repository.NewGormTrackRepository(db.DB)
	}

	if cfg.RedisEnabled {
		if err := db.ConnectRedis(cfg); err != nil {
			logger.Fatal("failed to connect to redis", logger.ErrorField(err))
		}
		defer db.CloseRedis()
	}

	var store *storage.Store
	if cfg.MinioEnabled {
		var err error
		store, err = storage.New(cfg)
		if err != nil {
			logger.Fatal("failed to initialize object storage", logger.ErrorField(err))
		}
	}

	rhythmCache := cache.NewRhythmCache(time.Duration(cfg.RhythmCacheTTLHrs) * time.Hour)

	ensureDirExists(cfg.LibraryDir)

	lib := library.NewService(trackRepo, store, cfg.LibraryDir)
	if err := lib.Restore(context.Background()); err != nil {
		logger.Warn("library restore failed", logger.ErrorField(err))
	}

	clk := clock.NewSystemClock()

	var out deck.Output
	if cfg.EngineOutput {
		speakerOut, err := deck.NewSpeakerOutput(cfg.EngineSampleRate)
		if err != nil {
			logger.Warn("audio device unavailable, engine runs headless", logger.ErrorField(err))
			out = deck.NewNullOutput(clk)
		} else {
			out = speakerOut
		}
	} else {
		out = deck.NewNullOutput(clk)
	}

	eng := engine.New(cfg, clk, out)
	eng.SetRhythmHooks(
		func(ctx context.Context, contentHash string) *model.RhythmData {
			return rhythmCache.Get(ctx, contentHash)
		},
		func(ctx context.Context, t model.Track) {
			lib.ApplyAnalysis(ctx, t)
			if t.Rhythm.HasGrid() {
				if err := rhythmCache.Put(ctx, t.ContentHash, &t.Rhythm); err != nil {
					logger.Warn("rhythm cache write failed", logger.ErrorField(err))
				}
			}
		},
	)

	hub := NewBeatHub()
	go hub.Run()
	eng.SetBeatHook(hub.BroadcastBeat)

	if cfg.ClickEnabled {
		if _, ok := out.(*deck.SpeakerOutput); ok {
			eng.EnableClick()
		} else {
			logger.Warn("metronome click needs a live audio device, skipping")
		}
	}

	eng.Start()

	// Push a session snapshot to WebSocket clients once a second so UIs can
	// render deck positions between beats.
	statusTicker := time.NewTicker(time.Second)
	statusDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-statusTicker.C:
				hub.BroadcastStatus(eng.Status())
			case <-statusDone:
				return
			}
		}
	}()

	authSvc, err := auth.NewService(cfg.AdminPassword, cfg.JWTSecret,
		time.Duration(cfg.JWTTTLHours)*time.Hour)
	if err != nil {
		logger.Fatal("failed to initialize auth service", logger.ErrorField(err))
	}

	var watcher *library.Watcher
	if cfg.WatchLibrary {
		watcher = library.NewWatcher(lib, cfg.LibraryDir)
		if err := watcher.Start(); err != nil {
			logger.Warn("library watcher failed to start", logger.ErrorField(err))
			watcher = nil
		}
	}

	apiHandler := NewAPIHandler(cfg, eng, lib, authSvc, hub)

	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Auth
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// Library reads are open; writes need a token.
	router.HandleFunc("/api/tracks", apiHandler.ListTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", apiHandler.AuthMiddleware(apiHandler.UploadTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/ingest", apiHandler.AuthMiddleware(apiHandler.IngestTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}", apiHandler.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id}/tempo", apiHandler.AuthMiddleware(apiHandler.UpdateTempoHintHandler)).Methods(http.MethodPatch)

	// Engine transport
	router.HandleFunc("/api/engine/status", apiHandler.EngineStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/engine/tracks/{id}/load", apiHandler.AuthMiddleware(apiHandler.LoadTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/engine/tracks/{id}/play", apiHandler.AuthMiddleware(apiHandler.PlayHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/engine/tracks/{id}/pause", apiHandler.AuthMiddleware(apiHandler.PauseHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/engine/tracks/{id}/seek", apiHandler.AuthMiddleware(apiHandler.SeekHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/engine/tracks/{id}/volume", apiHandler.AuthMiddleware(apiHandler.VolumeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/engine/tracks/{id}", apiHandler.AuthMiddleware(apiHandler.UnloadTrackHandler)).Methods(http.MethodDelete)

	// Clock
	router.HandleFunc("/api/clock", apiHandler.ClockHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/clock/tempo", apiHandler.AuthMiddleware(apiHandler.ClockTempoHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/clock/start", apiHandler.AuthMiddleware(apiHandler.ClockStartHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/clock/stop", apiHandler.AuthMiddleware(apiHandler.ClockStopHandler)).Methods(http.MethodPost)

	// Beat stream
	router.HandleFunc("/ws/beats", hub.ServeWS).Methods(http.MethodGet)

	server.Handler = router

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			logger.String("addr", server.Addr),
			logger.Float64("tempo", eng.Tempo()),
			logger.Bool("audioOutput", cfg.EngineOutput))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	if watcher != nil {
		watcher.Stop()
	}
	statusTicker.Stop()
	close(statusDone)

	eng.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	hub.Stop()
	logger.Info("server stopped")
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("failed to create directory",
				logger.String("path", path),
				logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("failed to check directory",
			logger.String("path", path),
			logger.ErrorField(err))
	}
}
