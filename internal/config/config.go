package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector index backends.
const (
	BackendHNSW   = "hnsw"
	BackendQdrant = "qdrant"
)

// Config holds all configuration for the application.
type Config struct {
	EmbeddingBaseURL        string
	EmbeddingAPIKey         string
	EmbeddingModelName      string
	EmbeddingTimeout        time.Duration
	EmbeddingMaxRetries     int
	EmbeddingRetryBaseDelay time.Duration
	VectorSize              int

	DBPath string

	VectorBackend       string
	QdrantURL           string
	QdrantCollection    string
	IndexTargetAccuracy float64

	BatchSize      int
	BatchWorkers   int
	BatchInterval  time.Duration // 0 disables the background scheduler
	BatchCallDelay time.Duration
	BatchTimeout   time.Duration
	ClaimLease     time.Duration

	RecommendCandidates  int
	RecommendDefaultTopK int
	RecommendMaxTopK     int
	RecommendTimeout     time.Duration

	APIPort string
	APIKeys []string

	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	cfg := &Config{
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", "dummy-key"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "granite-embedding-278m-multilingual"),
		DBPath:             getEnv("DB_PATH", "./data/casematch.db"),
		VectorBackend:      strings.ToLower(getEnv("VECTOR_BACKEND", BackendHNSW)),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "case_narratives"),
		APIPort:            getEnv("API_PORT", "9000"),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		APIKeys:            splitList(getEnv("API_KEYS", "")),
	}

	// VECTOR_SIZE must match the output dimension of the embedding model.
	// Changing it requires rebuilding the index and re-embedding every case.
	vectorSizeStr := getEnv("VECTOR_SIZE", "")
	if vectorSizeStr == "" {
		return nil, fmt.Errorf("VECTOR_SIZE is required")
	}
	vectorSize, err := strconv.Atoi(vectorSizeStr)
	if err != nil {
		return nil, fmt.Errorf("VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("VECTOR_SIZE must be greater than 0")
	}
	cfg.VectorSize = vectorSize

	var parseErr error
	intVar := func(dst *int, key string, def, min int) {
		if parseErr != nil {
			return
		}
		v, err := getInt(key, def)
		if err != nil {
			parseErr = err
			return
		}
		if v < min {
			parseErr = fmt.Errorf("%s must be at least %d", key, min)
			return
		}
		*dst = v
	}
	durVar := func(dst *time.Duration, key string, def time.Duration) {
		if parseErr != nil {
			return
		}
		v, err := getDuration(key, def)
		if err != nil {
			parseErr = err
			return
		}
		if v < 0 {
			parseErr = fmt.Errorf("%s must not be negative", key)
			return
		}
		*dst = v
	}

	durVar(&cfg.EmbeddingTimeout, "EMBEDDING_TIMEOUT", 30*time.Second)
	intVar(&cfg.EmbeddingMaxRetries, "EMBEDDING_MAX_RETRIES", 3, 0)
	durVar(&cfg.EmbeddingRetryBaseDelay, "EMBEDDING_RETRY_BASE_DELAY", 500*time.Millisecond)
	intVar(&cfg.BatchSize, "BATCH_SIZE", 50, 1)
	intVar(&cfg.BatchWorkers, "BATCH_WORKERS", 2, 1)
	durVar(&cfg.BatchInterval, "BATCH_INTERVAL", time.Minute)
	durVar(&cfg.BatchCallDelay, "BATCH_CALL_DELAY", 200*time.Millisecond)
	durVar(&cfg.BatchTimeout, "BATCH_TIMEOUT", 10*time.Minute)
	durVar(&cfg.ClaimLease, "CLAIM_LEASE", 5*time.Minute)
	intVar(&cfg.RecommendCandidates, "RECOMMEND_CANDIDATES", 100, 1)
	intVar(&cfg.RecommendDefaultTopK, "RECOMMEND_DEFAULT_TOP_K", 5, 1)
	intVar(&cfg.RecommendMaxTopK, "RECOMMEND_MAX_TOP_K", 20, 1)
	durVar(&cfg.RecommendTimeout, "RECOMMEND_TIMEOUT", 30*time.Second)
	if parseErr != nil {
		return nil, parseErr
	}

	if cfg.RecommendDefaultTopK > cfg.RecommendMaxTopK {
		return nil, fmt.Errorf("RECOMMEND_DEFAULT_TOP_K (%d) exceeds RECOMMEND_MAX_TOP_K (%d)", cfg.RecommendDefaultTopK, cfg.RecommendMaxTopK)
	}
	if cfg.ClaimLease == 0 {
		return nil, fmt.Errorf("CLAIM_LEASE must be greater than 0")
	}

	accuracy, err := strconv.ParseFloat(getEnv("INDEX_TARGET_ACCURACY", "95"), 64)
	if err != nil {
		return nil, fmt.Errorf("INDEX_TARGET_ACCURACY must be a number: %w", err)
	}
	if accuracy <= 0 || accuracy > 100 {
		return nil, fmt.Errorf("INDEX_TARGET_ACCURACY must be in (0, 100]")
	}
	cfg.IndexTargetAccuracy = accuracy

	switch cfg.VectorBackend {
	case BackendHNSW, BackendQdrant:
	default:
		return nil, fmt.Errorf("VECTOR_BACKEND must be %q or %q, got %q", BackendHNSW, BackendQdrant, cfg.VectorBackend)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	// Create ./data directory if it doesn't exist
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return v, nil
}

// getDuration accepts Go duration strings ("250ms", "2m") or a bare integer of milliseconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
