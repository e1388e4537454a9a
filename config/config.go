package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Values come from the
// environment (optionally seeded from a .env file) with working defaults, so
// the analyze subcommand and the test suite run with no setup at all.
type Config struct {
	// HTTP API
	ServerPort string

	// Logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// MySQL track library. Disabled means the engine runs purely in-memory.
	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis rhythm-analysis cache.
	RedisEnabled      bool
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RhythmCacheTTLHrs int

	// MinIO original-audio object store.
	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// Auth. AdminPassword is bcrypt-hashed at boot and never kept in clear.
	AdminPassword string
	JWTSecret     string
	JWTTTLHours   int

	// Library ingest
	LibraryDir   string
	WatchLibrary bool
	FFmpegPath   string

	// Audio engine
	EngineSampleRate int
	EngineOutput     bool // false runs the engine without a speaker (headless, tests)
	ClickEnabled     bool

	// Clock
	DefaultTempo float64
	MinTempo     float64
	MaxTempo     float64
	LookaheadMs  int
	TickPeriodMs int

	// Analysis
	AnalysisWindow      int
	AnalysisHop         int
	AnalysisChunkFrames int
	OnsetThreshold      float64 // flux peak gate, in multiples of the mean flux

	// Sync correction
	MaxCorrection   float64 // correction factor clamp, e.g. 0.08 = +-8%
	CorrectionBlend float64 // exponential smoothing weight for new corrections
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override variables already set in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPath:       getEnv("LOG_PATH", "logs/bt1qmix.log"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),

		DBEnabled:  getEnvBool("DB_ENABLED", true),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "mix"),

		RedisEnabled:      getEnvBool("REDIS_ENABLED", true),
		RedisHost:         getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RhythmCacheTTLHrs: getEnvInt("RHYTHM_CACHE_TTL_HOURS", 720),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "bt1qmix"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTTTLHours:   getEnvInt("JWT_TTL_HOURS", 24),

		LibraryDir:   getEnv("LIBRARY_DIR", "library"),
		WatchLibrary: getEnvBool("WATCH_LIBRARY", false),
		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),

		EngineSampleRate: getEnvInt("ENGINE_SAMPLE_RATE", 44100),
		EngineOutput:     getEnvBool("ENGINE_OUTPUT", true),
		ClickEnabled:     getEnvBool("CLICK_ENABLED", false),

		DefaultTempo: getEnvFloat("DEFAULT_TEMPO", 120),
		MinTempo:     getEnvFloat("MIN_TEMPO", 60),
		MaxTempo:     getEnvFloat("MAX_TEMPO", 200),
		LookaheadMs:  getEnvInt("LOOKAHEAD_MS", 100),
		TickPeriodMs: getEnvInt("TICK_PERIOD_MS", 25),

		AnalysisWindow:      getEnvInt("ANALYSIS_WINDOW", 2048),
		AnalysisHop:         getEnvInt("ANALYSIS_HOP", 512),
		AnalysisChunkFrames: getEnvInt("ANALYSIS_CHUNK_FRAMES", 4096),
		OnsetThreshold:      getEnvFloat("ONSET_THRESHOLD", 1.5),

		MaxCorrection:   getEnvFloat("MAX_CORRECTION", 0.08),
		CorrectionBlend: getEnvFloat("CORRECTION_BLEND", 0.3),
	}
}
