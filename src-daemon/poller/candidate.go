package poller

import (
	"log/slog"
	"strings"
	"time"

	"mail2cal/src-daemon/cal"
	"mail2cal/src-daemon/utils"

	"github.com/olebedev/when"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (p *Poller) buildCandidate(raw *utils.RawEvent) cal.Candidate {
	return buildCandidate(raw, p.parser, p.location, p.eventPrefix)
}

// buildCandidate turns the extractor's raw strings into an immutable
// candidate: cleaned prefixed title, parsed instants, one-hour default
// duration when the end is missing.
func buildCandidate(raw *utils.RawEvent, parser *when.Parser, loc *time.Location, prefix string) cal.Candidate {
	start := parseDate(raw.StartDate, parser, loc)
	end := parseDate(raw.EndDate, parser, loc)
	if end.IsZero() && !start.IsZero() {
		end = start.Add(time.Hour)
	}

	title := utils.CleanupString(raw.Title)
	if prefix != "" && !strings.HasPrefix(title, prefix) {
		title = prefix + title
	}

	return cal.Candidate{
		Title:       title,
		Start:       start,
		End:         end,
		Location:    strings.TrimSpace(raw.Location),
		Description: strings.TrimSpace(raw.Description),
	}
}

// parseDate tries the ISO layouts the extractor is told to produce, then
// falls back to natural-language parsing for the strings it produces
// anyway. Zero time means unparseable; Candidate.Valid catches it.
func parseDate(raw string, parser *when.Parser, loc *time.Location) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if layout != time.RFC3339 {
				return t.UTC()
			}
			return t
		}
	}
	if parser != nil {
		result, err := parser.Parse(raw, time.Now().In(loc))
		if err == nil && result != nil {
			slog.Debug("parsed date naturally", "raw", raw, "parsed", result.Time)
			return result.Time
		}
	}
	slog.Warn("can't parse extracted date", "raw", raw)
	return time.Time{}
}
