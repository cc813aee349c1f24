// Package reconcile decides create/update/skip for one extracted candidate
// against the existing state of both calendar backends.
package reconcile

import (
	"strings"

	"mail2cal/src-daemon/cal"

	"github.com/adrg/strutil"
)

// Overlaps reports whether two spans overlap. Two date-only spans compare
// inclusively so all-day events on the same day collide; once either side
// has a precise instant the comparison is strict, so timed events sharing a
// boundary instant do not overlap. Date-only sides are promoted to their
// day's 00:00:00–23:59:59.999 in UTC, which keeps every pair comparable.
func Overlaps(a, b cal.Span) bool {
	aStart, aEnd := a.Bounds()
	bStart, bEnd := b.Bounds()

	latestStart := aStart
	if bStart.After(latestStart) {
		latestStart = bStart
	}
	earliestEnd := aEnd
	if bEnd.Before(earliestEnd) {
		earliestEnd = bEnd
	}

	if a.AllDay && b.AllDay {
		return !latestStart.After(earliestEnd)
	}
	return latestStart.Before(earliestEnd)
}

// Similarity is the case-insensitive character-sequence similarity ratio in
// [0, 1]. Both empty is a perfect match, exactly one empty is no match.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	switch {
	case a == "" && b == "":
		return 1.0
	case a == "" || b == "":
		return 0.0
	}
	return strutil.Similarity(a, b, ratcliffObershelp{})
}

// WeightedScore ranks how well an existing event matches the candidate:
// title dominates, description and location refine.
func WeightedScore(c cal.Candidate, ev cal.Event) float64 {
	return 0.5*Similarity(c.Title, ev.Summary) +
		0.3*Similarity(c.Description, ev.Description) +
		0.2*Similarity(c.Location, ev.Location)
}
