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

	"github.com/nedlabs/ned/internal/audio"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiSynthesizer produces speech via the Gemini generateContent API
// with the AUDIO response modality. Output is PCM16 wrapped as WAV.
type GeminiSynthesizer struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewGeminiSynthesizer(cfg GeminiConfig) *GeminiSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = geminiDefaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-2.0-flash-exp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GeminiSynthesizer{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *GeminiSynthesizer) Name() string { return "gemini" }

func (s *GeminiSynthesizer) Synthesize(ctx context.Context, req Request) (AudioRef, error) {
	if s.apiKey == "" {
		return AudioRef{}, fmt.Errorf("gemini api key not configured")
	}
	voice := strings.TrimSpace(req.Style)
	if voice == "" {
		voice = "Kore"
	}

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": req.Text}}},
		},
		"generationConfig": map[string]any{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]any{
				"voiceConfig": map[string]any{
					"prebuiltVoiceConfig": map[string]any{"voiceName": voice},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return AudioRef{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", s.baseURL, s.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return AudioRef{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", s.apiKey)

	res, err := s.client.Do(httpReq)
	if err != nil {
		return AudioRef{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return AudioRef{}, fmt.Errorf("gemini tts status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData struct {
						Data string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return AudioRef{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return AudioRef{}, fmt.Errorf("gemini tts returned no audio candidates")
	}

	pcm, err := base64.StdEncoding.DecodeString(parsed.Candidates[0].Content.Parts[0].InlineData.Data)
	if err != nil {
		return AudioRef{}, fmt.Errorf("decode audio payload: %w", err)
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		return AudioRef{}, fmt.Errorf("encode wav: %w", err)
	}

	return AudioRef{
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
		Format:      "wav",
		SampleRate:  24000,
		Provider:    s.Name(),
	}, nil
}
