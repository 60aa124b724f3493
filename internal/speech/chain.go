package speech

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// Chain tries an ordered list of providers. A failed provider is
// skipped on subsequent calls until the active one fails too, at which
// point earlier providers are retried from the front of the list.
type Chain struct {
	providers []Synthesizer
	active    atomic.Int32
}

func NewChain(providers ...Synthesizer) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Synthesize(ctx context.Context, req Request) (AudioRef, error) {
	if len(c.providers) == 0 {
		return AudioRef{}, ErrUnavailable
	}

	start := int(c.active.Load())
	if start < 0 || start >= len(c.providers) {
		start = 0
	}
	if pref := strings.TrimSpace(req.Provider); pref != "" {
		for i, p := range c.providers {
			if strings.EqualFold(p.Name(), pref) {
				start = i
				break
			}
		}
	}

	var failures []string
	// Active provider first, then the rest in declared order.
	for offset := 0; offset < len(c.providers); offset++ {
		idx := (start + offset) % len(c.providers)
		p := c.providers[idx]
		ref, err := p.Synthesize(ctx, req)
		if err == nil {
			c.active.Store(int32(idx))
			return ref, nil
		}
		if ctx.Err() != nil {
			return AudioRef{}, ctx.Err()
		}
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
	}

	c.active.Store(0)
	return AudioRef{}, fmt.Errorf("%w (%s)", ErrUnavailable, strings.Join(failures, "; "))
}
