// Package turnctx carries per-turn counters through a context.
// Collaborator clients bump counters (credential refreshes, silent retries)
// without knowing about the conversation layer, and the loop reads them back
// into the turn diagnostics.
package turnctx

import (
	"context"
	"sync"
)

type contextKey struct{}

// Counters is a concurrency-safe named counter set scoped to one turn.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

// Well-known counter names.
const (
	CounterAuthRefresh = "auth_refresh"
	CounterSilentRetry = "silent_retry"
)

// WithCounters returns a derived context carrying a fresh counter set.
func WithCounters(ctx context.Context) (context.Context, *Counters) {
	c := &Counters{counts: make(map[string]int64)}
	return context.WithValue(ctx, contextKey{}, c), c
}

// Incr increments the named counter if the context carries one.
// It is a no-op on contexts without counters, so collaborator clients can
// call it unconditionally.
func Incr(ctx context.Context, name string) {
	c, ok := ctx.Value(contextKey{}).(*Counters)
	if !ok {
		return
	}
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

// Get returns the value of the named counter.
func (c *Counters) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
