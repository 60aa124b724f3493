package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nedlabs/ned/internal/analysis"
	"github.com/nedlabs/ned/internal/archive"
	"github.com/nedlabs/ned/internal/coach"
	"github.com/nedlabs/ned/internal/coaching"
	"github.com/nedlabs/ned/internal/config"
	"github.com/nedlabs/ned/internal/httpapi"
	"github.com/nedlabs/ned/internal/media"
	"github.com/nedlabs/ned/internal/observability"
	"github.com/nedlabs/ned/internal/session"
	"github.com/nedlabs/ned/internal/speech"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Registry     *session.Registry
	Orchestrator *coach.Orchestrator
	Metrics      *observability.Metrics
	AnalyzerMode string
	Providers    []string

	// Cleanup releases external resources (DB pool, session runtimes).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	records, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	configs, err := coaching.NewStore(cfg.ConfigsDir)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("coaching configs init failed: %w", err)
	}

	analyzer, analyzerMode, err := resolveAnalyzer(cfg)
	if err != nil {
		_ = records.Close()
		return nil, err
	}

	voice, providerNames := resolveSpeechProviders(cfg)

	registry := session.NewRegistry(cfg.SessionIdleTimeout, cfg.HistoryWindow)

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	orchestrator := coach.New(
		registry,
		configs,
		analyzer,
		voice,
		ffmpeg,
		ffmpeg,
		records,
		metrics,
		coach.Options{
			AnalysisTimeout:     cfg.AnalysisTimeout,
			AnalysisMaxAttempts: cfg.AnalysisMaxAttempts,
			AnalysisBackoffBase: cfg.AnalysisBackoffBase,
			AnalysisBackoffCap:  cfg.AnalysisBackoffCap,
			SpeechTimeout:       cfg.SpeechTimeout,
			DefaultVoiceStyle:   cfg.DefaultVoiceStyle,
			DataDir:             cfg.DataDir,
			Logger:              log.Default(),
		},
	)

	api := httpapi.New(cfg, orchestrator, records, metrics)

	cleanup := func() error {
		orchestrator.Shutdown()
		return records.Close()
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Registry:     registry,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		AnalyzerMode: analyzerMode,
		Providers:    providerNames,
		Cleanup:      cleanup,
	}, nil
}

// resolveAnalyzer picks the inference backend. Mode auto uses the HTTP
// endpoint when configured and falls back to the local mock.
func resolveAnalyzer(cfg config.Config) (analysis.Analyzer, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.AnalysisMode))
	switch mode {
	case "", "auto":
		if strings.TrimSpace(cfg.AnalysisURL) != "" {
			return analysis.NewHTTPAnalyzer(cfg.AnalysisURL, cfg.AnalysisAPIKey, cfg.AnalysisTimeout), "http", nil
		}
		return analysis.NewMockAnalyzer(), "mock", nil
	case "http":
		if strings.TrimSpace(cfg.AnalysisURL) == "" {
			return nil, "", fmt.Errorf("analysis mode http requires ANALYSIS_HTTP_URL")
		}
		return analysis.NewHTTPAnalyzer(cfg.AnalysisURL, cfg.AnalysisAPIKey, cfg.AnalysisTimeout), "http", nil
	case "mock":
		return analysis.NewMockAnalyzer(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unknown analysis mode %q", cfg.AnalysisMode)
	}
}

// resolveSpeechProviders builds the fallback chain in declared order.
// Providers missing credentials are skipped; an empty chain degrades
// to the mock so feedback always has a voice in development.
func resolveSpeechProviders(cfg config.Config) (speech.Synthesizer, []string) {
	var providers []speech.Synthesizer
	var names []string

	for _, name := range strings.Split(cfg.SpeechProviders, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gemini":
			if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
				continue
			}
			providers = append(providers, speech.NewGeminiSynthesizer(speech.GeminiConfig{
				APIKey:  cfg.GeminiAPIKey,
				Timeout: cfg.SpeechTimeout,
			}))
			names = append(names, "gemini")
		case "openai":
			if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
				continue
			}
			providers = append(providers, speech.NewOpenAISynthesizer(speech.OpenAIConfig{
				APIKey:  cfg.OpenAIAPIKey,
				Timeout: cfg.SpeechTimeout,
			}))
			names = append(names, "openai")
		case "mock":
			providers = append(providers, speech.NewMockSynthesizer())
			names = append(names, "mock")
		}
	}

	if len(providers) == 0 {
		providers = append(providers, speech.NewMockSynthesizer())
		names = append(names, "mock")
	}
	return speech.NewChain(providers...), names
}
