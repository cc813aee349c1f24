package cal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/xyedo/rrule"
)

// CalDAV is the protocol backend, aimed at a Radicale-style server.
type CalDAV struct {
	client       *caldav.Client
	httpClient   webdav.HTTPClient
	endpoint     string
	calendarPath string
}

// CaldavHandle is the native handle carried on normalized events; Update
// mutates the VEVENT inside Data and PUTs the whole object back.
type CaldavHandle struct {
	Path string
	UID  string
	Data *ical.Calendar
}

// NewCalDAV connects, discovers the calendar home set, and resolves the
// calendar by display name, creating it when absent.
func NewCalDAV(ctx context.Context, endpoint, username, password, calendarName string) (*CalDAV, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(nil, username, password)
	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("NewCalDAV: can't create client: %w", err)
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewCalDAV: can't find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("NewCalDAV: can't find calendar home set: %w", err)
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("NewCalDAV: can't list calendars: %w", err)
	}

	b := &CalDAV{
		client:     client,
		httpClient: httpClient,
		endpoint:   endpoint,
	}
	for _, c := range calendars {
		if c.Name == calendarName {
			b.calendarPath = c.Path
			slog.Info("found existing calendar", "name", calendarName, "path", c.Path)
			break
		}
	}
	if b.calendarPath == "" {
		slog.Warn("calendar not found, creating it", "name", calendarName)
		path, err := b.makeCalendar(ctx, homeSet, calendarName)
		if err != nil {
			return nil, fmt.Errorf("NewCalDAV: %w", err)
		}
		b.calendarPath = path
	}
	return b, nil
}

// MKCALENDAR; go-webdav's caldav client has no helper for it, the server
// only needs the method and the path.
func (b *CalDAV) makeCalendar(ctx context.Context, homeSet, name string) (string, error) {
	base, err := url.Parse(b.endpoint)
	if err != nil {
		return "", fmt.Errorf("makeCalendar: invalid endpoint: %w", err)
	}
	path := strings.TrimSuffix(homeSet, "/") + "/" + url.PathEscape(name) + "/"
	base.Path = path

	req, err := http.NewRequestWithContext(ctx, "MKCALENDAR", base.String(), nil)
	if err != nil {
		return "", fmt.Errorf("makeCalendar: can't create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("makeCalendar: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("makeCalendar: bad status code: %d", resp.StatusCode)
	}
	slog.Info("created new calendar", "name", name, "path", path)
	return path, nil
}

func (b *CalDAV) Kind() BackendKind { return KindCalDAV }

func (b *CalDAV) Events(ctx context.Context, window *Window) ([]Event, error) {
	compFilter := caldav.CompFilter{Name: ical.CompEvent}
	if window != nil {
		compFilter.Start = window.Start.UTC()
		compFilter.End = window.End.UTC()
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{compFilter},
		},
	}
	objects, err := b.client.QueryCalendar(ctx, b.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("CalDAV.Events: query failed: %w", err)
	}

	events := make([]Event, 0, len(objects))
	for _, object := range objects {
		if object.Data == nil {
			continue
		}
		for _, child := range object.Data.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			normalized, err := b.normalize(object, child, window)
			if err != nil {
				// one broken record never kills the batch
				slog.Warn("skipping malformed caldav event", "path", object.Path, "error", err)
				continue
			}
			events = append(events, normalized...)
		}
	}
	return events, nil
}

// normalize turns one VEVENT into common-shape events. With a window and a
// recurrence rule the master is expanded into its occurrences inside the
// window; without a window only the master span is reported, which is all
// the coarse duplicate check needs.
func (b *CalDAV) normalize(object caldav.CalendarObject, component *ical.Component, window *Window) ([]Event, error) {
	uid, err := propText(component.Props, ical.PropUID)
	if err != nil || uid == "" {
		return nil, fmt.Errorf("missing uid")
	}
	summary, _ := propText(component.Props, ical.PropSummary)
	location, _ := propText(component.Props, ical.PropLocation)
	description, _ := propText(component.Props, ical.PropDescription)

	startProp := component.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return nil, fmt.Errorf("missing dtstart")
	}
	allDay := startProp.ValueType() == ical.ValueDate

	wrapped := ical.Event{Component: component}
	start, err := wrapped.DateTimeStart(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad dtstart: %w", err)
	}
	end, err := wrapped.DateTimeEnd(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad dtend: %w", err)
	}
	if allDay && end.After(start) {
		// ics all-day DTEND is exclusive; spans here are inclusive
		end = end.AddDate(0, 0, -1)
	}

	base := Event{
		Backend:     KindCalDAV,
		NativeID:    uid,
		Summary:     summary,
		Location:    location,
		Description: description,
		Span:        Span{Start: start, End: end, AllDay: allDay},
		Handle:      &CaldavHandle{Path: object.Path, UID: uid, Data: object.Data},
	}

	ruleText, _ := propText(component.Props, ical.PropRecurrenceRule)
	if ruleText == "" || window == nil {
		return []Event{base}, nil
	}

	rule, err := rrule.StrToRRule(ruleText)
	if err != nil {
		return nil, fmt.Errorf("bad rrule: %w", err)
	}
	rule.DTStart(start)
	exDates := exceptionDates(component.Props)
	duration := end.Sub(start)

	occurrences := rule.Between(window.Start.UTC(), window.End.UTC(), true)
	events := make([]Event, 0, len(occurrences))
	for _, occurrence := range occurrences {
		if _, excluded := exDates[occurrence.Unix()]; excluded {
			continue
		}
		occurrenceEvent := base
		occurrenceEvent.Span = Span{
			Start:  occurrence,
			End:    occurrence.Add(duration),
			AllDay: allDay,
		}
		events = append(events, occurrenceEvent)
	}
	return events, nil
}

func exceptionDates(props ical.Props) map[int64]struct{} {
	exDates := make(map[int64]struct{})
	for _, prop := range props.Values(ical.PropExceptionDates) {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			continue
		}
		exDates[t.Unix()] = struct{}{}
	}
	return exDates
}

func (b *CalDAV) Create(ctx context.Context, c Candidate) (string, error) {
	uid := uuid.NewString()
	now := time.Now().UTC()

	calData := ical.NewCalendar()
	calData.Props.SetText(ical.PropVersion, "2.0")
	calData.Props.SetText(ical.PropProductID, "-//mail2cal//EN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, c.Title)
	event.Props.SetDateTime(ical.PropDateTimeStart, c.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, c.End.UTC())
	if c.Location != "" {
		event.Props.SetText(ical.PropLocation, c.Location)
	}
	if c.Description != "" {
		event.Props.SetText(ical.PropDescription, c.Description)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, now)
	event.Props.SetDateTime(ical.PropCreated, now)
	event.Props.SetDateTime(ical.PropLastModified, now)
	calData.Children = append(calData.Children, event.Component)

	path := strings.TrimSuffix(b.calendarPath, "/") + "/" + uid + ".ics"
	if _, err := b.client.PutCalendarObject(ctx, path, calData); err != nil {
		return "", fmt.Errorf("CalDAV.Create: put failed: %w", err)
	}
	return uid, nil
}

func (b *CalDAV) Update(ctx context.Context, ev Event, c Candidate) error {
	handle, ok := ev.Handle.(*CaldavHandle)
	if !ok || handle.Data == nil {
		return ErrBadHandle
	}

	var target *ical.Component
	for _, child := range handle.Data.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		uid, err := propText(child.Props, ical.PropUID)
		if err == nil && uid == handle.UID {
			target = child
			break
		}
	}
	if target == nil {
		return fmt.Errorf("CalDAV.Update: uid %s not found in calendar object", handle.UID)
	}
	if target.Props.Get(ical.PropRecurrenceRule) != nil {
		// expanded occurrences carry the series master as their handle;
		// rewriting its dates would shift every occurrence
		return fmt.Errorf("CalDAV.Update: uid %s is a recurring series, refusing to rewrite it", handle.UID)
	}

	now := time.Now().UTC()
	target.Props.SetText(ical.PropSummary, c.Title)
	target.Props.SetDateTime(ical.PropDateTimeStart, c.Start.UTC())
	target.Props.SetDateTime(ical.PropDateTimeEnd, c.End.UTC())
	if c.Location != "" {
		target.Props.SetText(ical.PropLocation, c.Location)
	}
	if c.Description != "" {
		target.Props.SetText(ical.PropDescription, c.Description)
	}
	target.Props.SetDateTime(ical.PropDateTimeStamp, now)
	target.Props.SetDateTime(ical.PropLastModified, now)

	if _, err := b.client.PutCalendarObject(ctx, handle.Path, handle.Data); err != nil {
		return fmt.Errorf("CalDAV.Update: put failed: %w", err)
	}
	return nil
}

func propText(props ical.Props, name string) (string, error) {
	prop := props.Get(name)
	if prop == nil {
		return "", fmt.Errorf("missing %s", name)
	}
	return prop.Text()
}
