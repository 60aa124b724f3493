package speech

import (
	"context"
	"errors"
	"testing"
)

type stubSynthesizer struct {
	name       string
	calls      int
	synthesize func(ctx context.Context, req Request) (AudioRef, error)
}

func (s *stubSynthesizer) Name() string { return s.name }

func (s *stubSynthesizer) Synthesize(ctx context.Context, req Request) (AudioRef, error) {
	s.calls++
	return s.synthesize(ctx, req)
}

func okProvider(name string) *stubSynthesizer {
	return &stubSynthesizer{
		name: name,
		synthesize: func(context.Context, Request) (AudioRef, error) {
			return AudioRef{AudioBase64: "YQ==", Format: "mp3", Provider: name}, nil
		},
	}
}

func failingProvider(name string, err error) *stubSynthesizer {
	return &stubSynthesizer{
		name: name,
		synthesize: func(context.Context, Request) (AudioRef, error) {
			return AudioRef{}, err
		},
	}
}

func TestChainFallsBackAndSticks(t *testing.T) {
	primary := failingProvider("gemini", errors.New("quota exceeded"))
	fallback := okProvider("openai")
	chain := NewChain(primary, fallback)

	ref, err := chain.Synthesize(context.Background(), Request{Text: "nice shot"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if ref.Provider != "openai" {
		t.Fatalf("Provider = %q, want openai", ref.Provider)
	}

	// Second call with no preference goes straight to the fallback.
	if _, err := chain.Synthesize(context.Background(), Request{Text: "again"}); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1 once fallback active", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestChainHonorsProviderPreference(t *testing.T) {
	gemini := okProvider("gemini")
	openai := okProvider("openai")
	chain := NewChain(gemini, openai)

	ref, err := chain.Synthesize(context.Background(), Request{Text: "hi", Provider: "openai"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if ref.Provider != "openai" {
		t.Fatalf("Provider = %q, want openai", ref.Provider)
	}
	if gemini.calls != 0 {
		t.Fatalf("gemini calls = %d, want 0", gemini.calls)
	}
}

func TestChainReturnsUnavailableWhenAllFail(t *testing.T) {
	chain := NewChain(
		failingProvider("gemini", errors.New("down")),
		failingProvider("openai", errors.New("also down")),
	)

	_, err := chain.Synthesize(context.Background(), Request{Text: "hi"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestChainEmptyIsUnavailable(t *testing.T) {
	chain := NewChain()
	if _, err := chain.Synthesize(context.Background(), Request{Text: "hi"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestChainStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubSynthesizer{
		name: "gemini",
		synthesize: func(context.Context, Request) (AudioRef, error) {
			cancel()
			return AudioRef{}, errors.New("interrupted")
		},
	}
	second := okProvider("openai")
	chain := NewChain(first, second)

	_, err := chain.Synthesize(ctx, Request{Text: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Fatalf("second provider calls = %d, want 0 after cancel", second.calls)
	}
}
