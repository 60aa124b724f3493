package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeLive   Mode = "live"
	ModeUpload Mode = "upload"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusClosed    Status = "closed"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrTerminal = errors.New("session is closed")
)

// Session is one bounded unit of coaching activity, owned by the
// orchestrator. Each session carries its own lock so independent
// sessions never contend.
type Session struct {
	ID            string
	Mode          Mode
	ConfigID      string
	VoiceProvider string
	VoiceStyle    string
	CreatedAt     time.Time

	mu             sync.Mutex
	status         Status
	lastActivityAt time.Time
	seq            uint64
	history        []string
	historyWindow  int
	videoPath      string
	outputPath     string
}

func newSession(mode Mode, configID, voiceProvider, voiceStyle string, historyWindow int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		Mode:           mode,
		ConfigID:       configID,
		VoiceProvider:  voiceProvider,
		VoiceStyle:     voiceStyle,
		CreatedAt:      now,
		status:         StatusCreated,
		lastActivityAt: now,
		historyWindow:  historyWindow,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Terminal reports whether the session reached closed or completed.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalLocked()
}

func (s *Session) terminalLocked() bool {
	return s.status == StatusClosed || s.status == StatusCompleted
}

// Activate transitions created → active on the first accepted segment.
// Returns ErrTerminal once the session is closed or completed.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return ErrTerminal
	}
	if s.status == StatusCreated {
		s.status = StatusActive
	}
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// Close transitions to closed. Idempotent; closing a completed session
// is a no-op and the completed state is kept.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return
	}
	s.status = StatusClosed
	s.lastActivityAt = time.Now().UTC()
}

// Complete transitions an upload session to completed exactly once.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return ErrTerminal
	}
	s.status = StatusCompleted
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// NextSeq returns the next strictly increasing sequence number.
func (s *Session) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// AppendHistory records one feedback line, trimmed to the window.
func (s *Session) AppendHistory(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyWindow <= 0 {
		return
	}
	s.history = append(s.history, text)
	if len(s.history) > s.historyWindow {
		s.history = s.history[len(s.history)-s.historyWindow:]
	}
}

// History returns a copy of the bounded feedback log.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) SetVideoPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoPath = path
}

func (s *Session) VideoPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoPath
}

func (s *Session) SetOutputPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputPath = path
}

func (s *Session) OutputPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputPath
}
