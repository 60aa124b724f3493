package speech

import (
	"context"
	"errors"
)

// ErrUnavailable signals that no provider could synthesize audio.
// Callers degrade to text-only feedback rather than failing the turn.
var ErrUnavailable = errors.New("speech synthesis unavailable")

// Request is one synthesis unit. Provider is the caller's preferred
// provider name; empty means the chain's current choice.
type Request struct {
	Text     string
	Provider string
	Style    string
}

// AudioRef is a playable audio payload produced by a provider.
type AudioRef struct {
	AudioBase64 string
	Format      string
	SampleRate  int
	Provider    string
}

// Synthesizer converts coaching text to speech.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (AudioRef, error)
}
