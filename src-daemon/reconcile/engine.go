package reconcile

import (
	"context"
	"log/slog"
	"sort"

	"mail2cal/src-daemon/cal"
)

// Thresholds are tuned values, configurable rather than hard constants.
// The duplicate pair is stricter than the update score on purpose: a
// duplicate-skip silently no-ops, while a wrong update is corrected by the
// next cycle and a missed one leaves a visible duplicate event.
type Thresholds struct {
	DuplicateTitle float64
	DuplicateDesc  float64
	UpdateScore    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DuplicateTitle: 0.9,
		DuplicateDesc:  0.8,
		UpdateScore:    0.6,
	}
}

type Outcome string

const (
	// a write landed on at least one backend
	OutcomeCreated Outcome = "created"
	// the top-ranked similar event was overwritten
	OutcomeUpdated Outcome = "updated"
	// exact repeat of an existing event, no mutation issued
	OutcomeDuplicate Outcome = "duplicate"
	// every attempted write failed
	OutcomeFailed Outcome = "failed"
	// malformed candidate, nothing attempted
	OutcomeDiscarded Outcome = "discarded"
)

// Match is one existing event that overlaps the candidate in time and
// scores above the update threshold.
type Match struct {
	Backend cal.BackendKind
	Event   cal.Event
	Score   float64
}

type Result struct {
	Outcome  Outcome
	Backend  cal.BackendKind
	NativeID string
	Score    float64
}

func (r Result) Success() bool {
	switch r.Outcome {
	case OutcomeCreated, OutcomeUpdated, OutcomeDuplicate:
		return true
	}
	return false
}

// Engine reconciles one candidate at a time against every available backend
// index. It owns the process-lifetime set of native identifiers this
// process has created or updated, so it never re-mutates its own fresh
// write through a stale cache.
type Engine struct {
	indexes    []*cal.Index
	thresholds Thresholds
	createdIDs map[string]struct{}
}

// NewEngine takes indexes in discovery order; that order breaks score ties
// in the ranked match list.
func NewEngine(thresholds Thresholds, indexes ...*cal.Index) *Engine {
	return &Engine{
		indexes:    indexes,
		thresholds: thresholds,
		createdIDs: make(map[string]struct{}),
	}
}

// HasCreated reports whether this process already wrote the identifier.
func (e *Engine) HasCreated(nativeID string) bool {
	_, ok := e.createdIDs[nativeID]
	return ok
}

func (e *Engine) isDuplicate(c cal.Candidate, ev cal.Event) bool {
	return Similarity(c.Title, ev.Summary) > e.thresholds.DuplicateTitle &&
		Similarity(c.Description, ev.Description) > e.thresholds.DuplicateDesc
}

// Reconcile runs one full decision for one candidate: coarse duplicate
// check over the cached views, ranked similar-event search, then one update
// or per-backend creates, each guarded by an always-fresh windowed re-check
// immediately before the write.
//
// Two overlapping candidates in the same batch remain a known race: the
// second is reconciled against a cache that may not yet reflect the first's
// write. The windowed pre-write fetch narrows that gap, it does not close
// it.
func (e *Engine) Reconcile(ctx context.Context, c cal.Candidate) Result {
	if !c.Valid() {
		slog.Warn("discarding malformed candidate",
			"title", c.Title, "start", c.Start, "end", c.End)
		return Result{Outcome: OutcomeDiscarded}
	}

	span := c.Span()
	duplicates := make(map[cal.BackendKind]cal.Event)
	matches := []Match{}

	for _, index := range e.indexes {
		for _, ev := range index.Events(ctx) {
			if !Overlaps(span, ev.Span) {
				continue
			}
			if _, found := duplicates[index.Kind()]; !found && e.isDuplicate(c, ev) {
				duplicates[index.Kind()] = ev
				continue
			}
			if e.HasCreated(ev.NativeID) {
				// our own fresh write; never update it again this run
				continue
			}
			if score := WeightedScore(c, ev); score > e.thresholds.UpdateScore {
				matches = append(matches, Match{Backend: index.Kind(), Event: ev, Score: score})
			}
		}
	}

	// a duplicate silences every write to its backend
	ranked := matches[:0]
	for _, match := range matches {
		if _, skip := duplicates[match.Backend]; !skip {
			ranked = append(ranked, match)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if len(ranked) > 0 {
		if result := e.update(ctx, c, ranked[0]); result.Success() || len(duplicates) == 0 {
			return result
		}
	}

	if len(ranked) == 0 {
		if result := e.create(ctx, c, duplicates); result.Success() || len(duplicates) == 0 {
			return result
		}
	}

	// writes failed but at least one backend already holds this event
	for kind, ev := range duplicates {
		return Result{Outcome: OutcomeDuplicate, Backend: kind, NativeID: ev.NativeID}
	}
	return Result{Outcome: OutcomeFailed}
}

// update overwrites the top-ranked match after a fresh windowed re-check.
// One attempt only; retry is the polling loop's problem.
func (e *Engine) update(ctx context.Context, c cal.Candidate, top Match) Result {
	index := e.indexByKind(top.Backend)
	if index == nil {
		return Result{Outcome: OutcomeFailed}
	}

	for _, fresh := range index.WindowEvents(ctx, cal.WindowAround(c)) {
		if Overlaps(c.Span(), fresh.Span) && e.isDuplicate(c, fresh) {
			slog.Info("exact duplicate found on fresh read, skipping update",
				"backend", top.Backend, "id", fresh.NativeID)
			return Result{Outcome: OutcomeDuplicate, Backend: top.Backend, NativeID: fresh.NativeID}
		}
	}

	if err := index.Backend().Update(ctx, top.Event, c); err != nil {
		slog.Error("can't update event",
			"backend", top.Backend, "id", top.Event.NativeID, "error", err)
		return Result{Outcome: OutcomeFailed, Backend: top.Backend, Score: top.Score}
	}
	e.createdIDs[top.Event.NativeID] = struct{}{}
	slog.Info("updated existing event",
		"backend", top.Backend, "id", top.Event.NativeID, "score", top.Score, "title", c.Title)
	return Result{
		Outcome:  OutcomeUpdated,
		Backend:  top.Backend,
		NativeID: top.Event.NativeID,
		Score:    top.Score,
	}
}

// create writes the candidate to every backend that has no exact duplicate,
// each behind its own fresh windowed guard. Success needs one backend.
func (e *Engine) create(ctx context.Context, c cal.Candidate, duplicates map[cal.BackendKind]cal.Event) Result {
	result := Result{Outcome: OutcomeFailed}
	attempted := false

	for _, index := range e.indexes {
		if _, skip := duplicates[index.Kind()]; skip {
			continue
		}

		freshDuplicate := false
		for _, fresh := range index.WindowEvents(ctx, cal.WindowAround(c)) {
			if Overlaps(c.Span(), fresh.Span) && e.isDuplicate(c, fresh) {
				slog.Info("exact duplicate found on fresh read, skipping create",
					"backend", index.Kind(), "id", fresh.NativeID)
				duplicates[index.Kind()] = fresh
				freshDuplicate = true
				break
			}
		}
		if freshDuplicate {
			continue
		}

		attempted = true
		nativeID, err := index.Backend().Create(ctx, c)
		if err != nil {
			slog.Error("can't create event", "backend", index.Kind(), "error", err)
			continue
		}
		e.createdIDs[nativeID] = struct{}{}
		slog.Info("created event", "backend", index.Kind(), "id", nativeID, "title", c.Title)
		if result.Outcome != OutcomeCreated {
			result = Result{Outcome: OutcomeCreated, Backend: index.Kind(), NativeID: nativeID}
		}
	}

	if result.Outcome != OutcomeCreated && !attempted && len(duplicates) > 0 {
		for kind, ev := range duplicates {
			return Result{Outcome: OutcomeDuplicate, Backend: kind, NativeID: ev.NativeID}
		}
	}
	return result
}

func (e *Engine) indexByKind(kind cal.BackendKind) *cal.Index {
	for _, index := range e.indexes {
		if index.Kind() == kind {
			return index
		}
	}
	return nil
}
