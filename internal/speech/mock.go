package speech

import (
	"context"
	"encoding/base64"
	"strings"
)

// MockSynthesizer is a local fallback provider that echoes the text
// bytes as the audio payload.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (s *MockSynthesizer) Name() string { return "mock" }

func (s *MockSynthesizer) Synthesize(_ context.Context, req Request) (AudioRef, error) {
	if strings.TrimSpace(req.Text) == "" {
		return AudioRef{}, ErrUnavailable
	}
	return AudioRef{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte(req.Text)),
		Format:      "mock_text_bytes",
		Provider:    s.Name(),
	}, nil
}
