package session

import (
	"context"
	"sync"
	"time"
)

// Registry tracks sessions by id. The map lock only guards membership;
// all per-session state lives behind each session's own lock.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	idleTimeout   time.Duration
	historyWindow int
	onExpire      func(*Session)
}

func NewRegistry(idleTimeout time.Duration, historyWindow int) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}
	return &Registry{
		sessions:      make(map[string]*Session),
		idleTimeout:   idleTimeout,
		historyWindow: historyWindow,
	}
}

// SetExpireHook installs a callback invoked for sessions the janitor
// closes due to inactivity.
func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Create(mode Mode, configID, voiceProvider, voiceStyle string) *Session {
	s := newSession(mode, configID, voiceProvider, voiceStyle, r.historyWindow)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops the session from the registry. The caller is expected
// to have closed it first.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		switch s.Status() {
		case StatusCreated, StatusActive:
			count++
		}
	}
	return count
}

// StartJanitor closes idle sessions periodically until ctx ends.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *Registry) expireIdle() {
	now := time.Now().UTC()

	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	hook := r.onExpire
	r.mu.RUnlock()

	for _, s := range candidates {
		if s.Terminal() {
			continue
		}
		if now.Sub(s.LastActivityAt()) < r.idleTimeout {
			continue
		}
		s.Close()
		if hook != nil {
			hook(s)
		}
	}
}
