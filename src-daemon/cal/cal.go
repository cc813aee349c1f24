// Package cal models the two calendar backends behind one event shape and
// one backend contract, so the reconciliation engine never sees a native
// CalDAV object or a Google API record.
package cal

import (
	"context"
	"fmt"
	"time"
)

type BackendKind string

const (
	KindCalDAV BackendKind = "caldav"
	KindGoogle BackendKind = "google"
)

// Span is a time range that is either timed or date-only (all-day). A
// date-only span stores midnight UTC of its first and last calendar day.
type Span struct {
	Start  time.Time
	End    time.Time
	AllDay bool
}

// Overlap-comparable bounds: all-day spans occupy their full calendar days.
func (s Span) Bounds() (time.Time, time.Time) {
	if !s.AllDay {
		return s.Start, s.End
	}
	start := time.Date(s.Start.Year(), s.Start.Month(), s.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(s.End.Year(), s.End.Month(), s.End.Day(), 23, 59, 59, 999000000, time.UTC)
	return start, end
}

// Candidate is one event description extracted from one email, immutable
// once built, not yet reconciled against any backend.
type Candidate struct {
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
}

func (c Candidate) Span() Span {
	return Span{Start: c.Start, End: c.End}
}

// Valid reports whether the candidate is well-formed enough to reconcile.
func (c Candidate) Valid() bool {
	return c.Title != "" && !c.Start.IsZero() && !c.End.IsZero() && !c.End.Before(c.Start)
}

// Event is a read-only snapshot of one existing backend event, normalized
// to a common shape. Handle carries the backend's native representation for
// the update path and is meaningless outside the owning backend.
type Event struct {
	Backend     BackendKind
	NativeID    string
	Summary     string
	Location    string
	Description string
	Span        Span
	Handle      any
}

// Window narrows an event query; both bounds are inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAround is the caller convention for fine-grained duplicate checks:
// one day of slack on each side of the candidate.
func WindowAround(c Candidate) Window {
	return Window{
		Start: c.Start.Add(-24 * time.Hour),
		End:   c.End.Add(24 * time.Hour),
	}
}

// Backend is one calendar system. Events with a nil window returns the full
// visible set; with a window it must hit the backend directly. Create and
// Update are single attempts, no internal retry.
type Backend interface {
	Kind() BackendKind
	Events(ctx context.Context, window *Window) ([]Event, error)
	Create(ctx context.Context, c Candidate) (string, error)
	Update(ctx context.Context, ev Event, c Candidate) error
}

func (k BackendKind) String() string { return string(k) }

var ErrBadHandle = fmt.Errorf("cal: event handle does not belong to this backend")
