package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry(time.Minute, 5)
	s := r.Create(ModeLive, "basketball", "openai", "coral")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.Status() != StatusCreated {
		t.Fatalf("Status() = %q, want created", s.Status())
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ConfigID != "basketball" || got.Mode != ModeLive {
		t.Fatalf("unexpected session: %+v", got)
	}

	r.Remove(s.ID)
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Remove error = %v, want ErrNotFound", err)
	}
}

func TestSessionStateMachine(t *testing.T) {
	r := NewRegistry(time.Minute, 5)
	s := r.Create(ModeUpload, "basketball", "", "")

	if err := s.Activate(); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if s.Status() != StatusActive {
		t.Fatalf("Status() = %q, want active", s.Status())
	}

	if err := s.Complete(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if s.Status() != StatusCompleted {
		t.Fatalf("Status() = %q, want completed", s.Status())
	}

	// Terminal states are reached exactly once and stay put.
	if err := s.Complete(); !errors.Is(err, ErrTerminal) {
		t.Fatalf("second Complete() error = %v, want ErrTerminal", err)
	}
	s.Close()
	if s.Status() != StatusCompleted {
		t.Fatalf("Close() after Complete() changed status to %q", s.Status())
	}
	if err := s.Activate(); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Activate() on terminal session error = %v, want ErrTerminal", err)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute, 5)
	s := r.Create(ModeLive, "basketball", "", "")
	s.Close()
	s.Close()
	if s.Status() != StatusClosed {
		t.Fatalf("Status() = %q, want closed", s.Status())
	}
}

func TestSessionSequenceIsStrictlyIncreasing(t *testing.T) {
	r := NewRegistry(time.Minute, 5)
	s := r.Create(ModeLive, "basketball", "", "")
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		seq := s.NextSeq()
		if seq <= prev {
			t.Fatalf("NextSeq() = %d after %d, want strictly increasing", seq, prev)
		}
		prev = seq
	}
}

func TestSessionHistoryIsBounded(t *testing.T) {
	r := NewRegistry(time.Minute, 3)
	s := r.Create(ModeLive, "basketball", "", "")
	for _, line := range []string{"one", "two", "three", "four", "five"} {
		s.AppendHistory(line)
	}
	got := s.History()
	if len(got) != 3 {
		t.Fatalf("history len = %d, want 3", len(got))
	}
	if got[0] != "three" || got[2] != "five" {
		t.Fatalf("history = %v, want trailing window", got)
	}
}

func TestJanitorClosesIdleSessions(t *testing.T) {
	r := NewRegistry(30*time.Millisecond, 5)
	s := r.Create(ModeLive, "basketball", "", "")

	expired := make(chan string, 1)
	r.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired id = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire idle session")
	}
	if s.Status() != StatusClosed {
		t.Fatalf("Status() = %q, want closed", s.Status())
	}
}
