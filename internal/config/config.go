package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the coaching service.
type Config struct {
	BindAddr           string
	ShutdownTimeout    time.Duration
	SessionIdleTimeout time.Duration
	MetricsNamespace   string
	AllowAnyOrigin     bool

	ConfigsDir string
	DataDir    string

	AnalysisMode        string
	AnalysisURL         string
	AnalysisAPIKey      string
	AnalysisTimeout     time.Duration
	AnalysisMaxAttempts int
	AnalysisBackoffBase time.Duration
	AnalysisBackoffCap  time.Duration

	SpeechProviders      string
	SpeechTimeout        time.Duration
	GeminiAPIKey         string
	OpenAIAPIKey         string
	DefaultVoiceProvider string
	DefaultVoiceStyle    string

	FFmpegPath  string
	FFprobePath string

	HistoryWindow int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "ned"),
		ConfigsDir:       envOrDefault("APP_CONFIGS_DIR", "configs"),
		DataDir:          envOrDefault("APP_DATA_DIR", "data"),
		AnalysisMode:     envOrDefault("ANALYSIS_MODE", "auto"),
		AnalysisURL:      envFromTrimmed("ANALYSIS_HTTP_URL"),
		AnalysisAPIKey:   envFromTrimmed("ANALYSIS_API_KEY"),
		SpeechProviders:  envOrDefault("SPEECH_PROVIDERS", "gemini,openai"),
		GeminiAPIKey:     envFromTrimmed("GEMINI_API_KEY"),
		OpenAIAPIKey:     envFromTrimmed("OPENAI_API_KEY"),
		// Match the web client default: it requests the chatgpt voice.
		DefaultVoiceProvider: envOrDefault("SPEECH_DEFAULT_PROVIDER", "openai"),
		DefaultVoiceStyle:    envOrDefault("SPEECH_DEFAULT_STYLE", "coral"),
		FFmpegPath:           envOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:          envOrDefault("FFPROBE_PATH", "ffprobe"),
		DatabaseURL:          envFromTrimmed("DATABASE_URL"),
		ShutdownTimeout:      15 * time.Second,
		SessionIdleTimeout:   2 * time.Minute,
		AnalysisTimeout:      30 * time.Second,
		AnalysisMaxAttempts:  3,
		AnalysisBackoffBase:  500 * time.Millisecond,
		AnalysisBackoffCap:   5 * time.Second,
		SpeechTimeout:        20 * time.Second,
		HistoryWindow:        5,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisTimeout, err = durationFromEnv("ANALYSIS_TIMEOUT", cfg.AnalysisTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisBackoffBase, err = durationFromEnv("ANALYSIS_BACKOFF_BASE", cfg.AnalysisBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisBackoffCap, err = durationFromEnv("ANALYSIS_BACKOFF_CAP", cfg.AnalysisBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisMaxAttempts, err = intFromEnv("ANALYSIS_MAX_ATTEMPTS", cfg.AnalysisMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("APP_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.AnalysisMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("ANALYSIS_MAX_ATTEMPTS must be positive")
	}
	if cfg.AnalysisBackoffBase <= 0 || cfg.AnalysisBackoffCap < cfg.AnalysisBackoffBase {
		return Config{}, fmt.Errorf("analysis backoff must satisfy 0 < base <= cap")
	}
	if cfg.HistoryWindow < 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_WINDOW must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envFromTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envFromTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envFromTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envFromTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
