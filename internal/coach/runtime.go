package coach

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nedlabs/ned/internal/segment"
)

// runtime is the processing side of one session: its queue, event hub
// and loop cancellation. Kept apart from session.Session so domain
// state and goroutine plumbing never share a lock.
type runtime struct {
	queue         *segment.Queue
	hub           *Hub
	cancel        context.CancelFunc
	uploadStarted atomic.Bool

	doneOnce sync.Once
	done     chan struct{}
}

func (rt *runtime) markDone() {
	rt.doneOnce.Do(func() { close(rt.done) })
}

// closed is signalled when the runtime is torn down.
func (rt *runtime) closed() <-chan struct{} { return rt.done }

type runtimeSet struct {
	mu sync.Mutex
	m  map[string]*runtime
}

func newRuntimeSet() *runtimeSet {
	return &runtimeSet{m: make(map[string]*runtime)}
}

func (s *runtimeSet) put(id string, rt *runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = rt
}

func (s *runtimeSet) get(id string) (*runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.m[id]
	return rt, ok
}

func (s *runtimeSet) remove(id string) (*runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.m[id]
	if ok {
		delete(s.m, id)
	}
	return rt, ok
}

func (s *runtimeSet) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	return ids
}
