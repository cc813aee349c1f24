package cal

import (
	"context"
	"log/slog"
	"time"
)

// Index is a TTL-cached read view over one backend's events. The cache is
// an explicit (events, capturedAt) pair; the accessor checks age before
// serving. Single-writer by construction (the one reconciliation
// goroutine), so no locking here.
type Index struct {
	backend Backend
	ttl     time.Duration

	cached     []Event
	capturedAt time.Time

	now func() time.Time
}

func NewIndex(backend Backend, ttl time.Duration) *Index {
	return &Index{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (x *Index) Kind() BackendKind { return x.backend.Kind() }

func (x *Index) Backend() Backend { return x.backend }

// Events returns the full visible event set, served from cache while the
// cache is younger than the TTL. A fetch failure degrades to an empty set
// so a flaky backend reads as "no known matches" instead of killing the
// cycle.
func (x *Index) Events(ctx context.Context) []Event {
	if !x.capturedAt.IsZero() && x.now().Sub(x.capturedAt) < x.ttl {
		return x.cached
	}
	events, err := x.backend.Events(ctx, nil)
	if err != nil {
		slog.Warn("can't fetch events, treating as empty", "backend", x.backend.Kind(), "error", err)
		return nil
	}
	x.cached = events
	x.capturedAt = x.now()
	return events
}

// WindowEvents always fetches fresh and never touches the unconstrained
// cache; windowed reads guard writes and must see near-real-time state.
func (x *Index) WindowEvents(ctx context.Context, w Window) []Event {
	events, err := x.backend.Events(ctx, &w)
	if err != nil {
		slog.Warn("can't fetch windowed events, treating as empty", "backend", x.backend.Kind(), "error", err)
		return nil
	}
	return events
}

// Invalidate drops the unconstrained cache, forcing the next Events call to
// hit the backend.
func (x *Index) Invalidate() {
	x.cached = nil
	x.capturedAt = time.Time{}
}
