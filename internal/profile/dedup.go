package profile

import (
	"context"
	"fmt"
	"sync"
)

type dedupKey struct{}

// Guard suppresses duplicate event registrations within one request or
// ingest batch. It lives in the context, so its lifetime is exactly the
// operation that created it; nothing leaks across requests.
type Guard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// WithDedup attaches a fresh Guard to the context.
func WithDedup(ctx context.Context) context.Context {
	return context.WithValue(ctx, dedupKey{}, &Guard{seen: make(map[string]struct{})})
}

func guardFrom(ctx context.Context) *Guard {
	g, _ := ctx.Value(dedupKey{}).(*Guard)
	return g
}

// registered marks an event identity as seen and reports whether it had been
// seen before. With no guard in the context every event is fresh.
func (g *Guard) registered(eventType int, profileID uint, payload string) bool {
	if g == nil {
		return false
	}
	key := fmt.Sprintf("%d|%d|%s", eventType, profileID, payload)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[key]; ok {
		return true
	}
	g.seen[key] = struct{}{}
	return false
}
