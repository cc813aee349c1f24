package cal

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type countingBackend struct {
	kind        BackendKind
	events      []Event
	err         error
	fullFetches int
	windowed    []Window
}

func (b *countingBackend) Kind() BackendKind { return b.kind }

func (b *countingBackend) Events(ctx context.Context, window *Window) ([]Event, error) {
	if window != nil {
		b.windowed = append(b.windowed, *window)
	} else {
		b.fullFetches++
	}
	return b.events, b.err
}

func (b *countingBackend) Create(ctx context.Context, c Candidate) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (b *countingBackend) Update(ctx context.Context, ev Event, c Candidate) error {
	return fmt.Errorf("not implemented")
}

func TestIndexServesFromCacheUntilTTL(t *testing.T) {
	backend := &countingBackend{
		kind:   KindCalDAV,
		events: []Event{{NativeID: "a"}},
	}
	index := NewIndex(backend, 2*time.Minute)

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	index.now = func() time.Time { return now }

	index.Events(context.Background())
	index.Events(context.Background())
	if backend.fullFetches != 1 {
		t.Error("second read within TTL should hit the cache, fetches:", backend.fullFetches)
	}

	now = now.Add(3 * time.Minute)
	events := index.Events(context.Background())
	if backend.fullFetches != 2 {
		t.Error("read after TTL expiry should refetch, fetches:", backend.fullFetches)
	}
	if len(events) != 1 || events[0].NativeID != "a" {
		t.Error("unexpected events", events)
	}
}

func TestIndexWindowBypassesCache(t *testing.T) {
	backend := &countingBackend{kind: KindCalDAV}
	index := NewIndex(backend, time.Hour)

	window := Window{
		Start: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
	}
	index.WindowEvents(context.Background(), window)
	index.WindowEvents(context.Background(), window)
	if len(backend.windowed) != 2 {
		t.Error("windowed reads must always hit the backend, got", len(backend.windowed))
	}
	if backend.fullFetches != 0 {
		t.Error("windowed reads must not touch the unconstrained cache")
	}

	// and the unconstrained cache stays cold
	index.Events(context.Background())
	if backend.fullFetches != 1 {
		t.Error("windowed reads must not populate the cache")
	}
}

func TestIndexDegradesToEmptyOnError(t *testing.T) {
	backend := &countingBackend{
		kind: KindCalDAV,
		err:  fmt.Errorf("connection refused"),
	}
	index := NewIndex(backend, time.Minute)

	if events := index.Events(context.Background()); len(events) != 0 {
		t.Error("fetch failure should read as no known matches, got", events)
	}
	if events := index.WindowEvents(context.Background(), Window{}); len(events) != 0 {
		t.Error("windowed fetch failure should read as no known matches, got", events)
	}
}

func TestWindowAround(t *testing.T) {
	candidate := Candidate{
		Start: time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 10, 16, 0, 0, 0, time.UTC),
	}
	window := WindowAround(candidate)
	if !window.Start.Equal(candidate.Start.Add(-24 * time.Hour)) {
		t.Error("window should start one day before the candidate")
	}
	if !window.End.Equal(candidate.End.Add(24 * time.Hour)) {
		t.Error("window should end one day after the candidate")
	}
}
