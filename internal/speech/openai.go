package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const openAIDefaultBaseURL = "https://api.openai.com"

// OpenAISynthesizer produces speech via the OpenAI audio/speech API.
type OpenAISynthesizer struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAISynthesizer{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *OpenAISynthesizer) Name() string { return "openai" }

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, req Request) (AudioRef, error) {
	if s.apiKey == "" {
		return AudioRef{}, fmt.Errorf("openai api key not configured")
	}
	voice := strings.TrimSpace(req.Style)
	if voice == "" {
		voice = "coral"
	}

	body, err := json.Marshal(map[string]any{
		"model":        s.model,
		"voice":        voice,
		"input":        req.Text,
		"instructions": "Speak in a cheerful and positive tone.",
	})
	if err != nil {
		return AudioRef{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return AudioRef{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	res, err := s.client.Do(httpReq)
	if err != nil {
		return AudioRef{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return AudioRef{}, fmt.Errorf("openai tts status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return AudioRef{}, fmt.Errorf("read audio: %w", err)
	}
	if len(raw) == 0 {
		return AudioRef{}, fmt.Errorf("openai tts returned empty audio")
	}

	return AudioRef{
		AudioBase64: base64.StdEncoding.EncodeToString(raw),
		Format:      "mp3",
		Provider:    s.Name(),
	}, nil
}
