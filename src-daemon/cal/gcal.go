package cal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Google is the hosted backend, driven through the Calendar v3 API with a
// token-file OAuth flow. The token file must already exist (produced by a
// one-time interactive consent); refreshes are written back to it.
type Google struct {
	service    *calendar.Service
	calendarID string
}

func NewGoogle(ctx context.Context, credentialsFile, tokenFile, calendarName string) (*Google, error) {
	credentials, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("NewGoogle: can't read credentials file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(credentials, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("NewGoogle: can't parse credentials: %w", err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("NewGoogle: %w (run the auth flow first)", err)
	}
	tokenSource := oauthConfig.TokenSource(ctx, token)
	freshToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("NewGoogle: can't refresh token: %w", err)
	}
	if freshToken.AccessToken != token.AccessToken {
		if err := saveToken(tokenFile, freshToken); err != nil {
			slog.Warn("can't persist refreshed google token", "error", err)
		}
	}

	service, err := calendar.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("NewGoogle: can't create service: %w", err)
	}

	return &Google{
		service:    service,
		calendarID: calendarIDByName(service, calendarName),
	}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open token file: %w", err)
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("can't decode token file: %w", err)
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("saveToken: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// Resolves a calendar display name to its id, falling back to "primary".
func calendarIDByName(service *calendar.Service, name string) string {
	if name == "" || name == "primary" {
		return "primary"
	}
	list, err := service.CalendarList.List().Do()
	if err != nil {
		slog.Warn("can't list google calendars, using primary", "error", err)
		return "primary"
	}
	for _, entry := range list.Items {
		if entry.Summary == name {
			return entry.Id
		}
	}
	slog.Warn("google calendar not found, using primary", "name", name)
	return "primary"
}

func (b *Google) Kind() BackendKind { return KindGoogle }

func (b *Google) Events(ctx context.Context, window *Window) ([]Event, error) {
	call := b.service.Events.List(b.calendarID).
		Context(ctx).
		SingleEvents(true).
		MaxResults(2500)
	if window != nil {
		call = call.
			TimeMin(window.Start.UTC().Format(time.RFC3339)).
			TimeMax(window.End.UTC().Format(time.RFC3339))
	}
	response, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("Google.Events: list failed: %w", err)
	}

	events := make([]Event, 0, len(response.Items))
	for _, item := range response.Items {
		if item.Status == "cancelled" {
			continue
		}
		normalized, err := normalizeGoogleEvent(item)
		if err != nil {
			slog.Warn("skipping malformed google event", "id", item.Id, "error", err)
			continue
		}
		events = append(events, normalized)
	}
	return events, nil
}

func normalizeGoogleEvent(item *calendar.Event) (Event, error) {
	if item.Start == nil || item.End == nil {
		return Event{}, fmt.Errorf("missing start or end")
	}
	span, err := googleSpan(item.Start, item.End)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Backend:     KindGoogle,
		NativeID:    item.Id,
		Summary:     item.Summary,
		Location:    item.Location,
		Description: item.Description,
		Span:        span,
		Handle:      item,
	}, nil
}

func googleSpan(start, end *calendar.EventDateTime) (Span, error) {
	if start.DateTime != "" {
		startTime, err := time.Parse(time.RFC3339, start.DateTime)
		if err != nil {
			return Span{}, fmt.Errorf("bad start: %w", err)
		}
		endTime, err := time.Parse(time.RFC3339, end.DateTime)
		if err != nil {
			return Span{}, fmt.Errorf("bad end: %w", err)
		}
		return Span{Start: startTime, End: endTime}, nil
	}

	startDay, err := time.ParseInLocation("2006-01-02", start.Date, time.UTC)
	if err != nil {
		return Span{}, fmt.Errorf("bad all-day start: %w", err)
	}
	endDay, err := time.ParseInLocation("2006-01-02", end.Date, time.UTC)
	if err != nil {
		return Span{}, fmt.Errorf("bad all-day end: %w", err)
	}
	// google all-day end date is exclusive
	if endDay.After(startDay) {
		endDay = endDay.AddDate(0, 0, -1)
	}
	return Span{Start: startDay, End: endDay, AllDay: true}, nil
}

func (b *Google) Create(ctx context.Context, c Candidate) (string, error) {
	event := &calendar.Event{
		Summary: c.Title,
		Start: &calendar.EventDateTime{
			DateTime: c.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: c.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		Location:    c.Location,
		Description: c.Description,
	}
	created, err := b.service.Events.Insert(b.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("Google.Create: insert failed: %w", err)
	}
	return created.Id, nil
}

func (b *Google) Update(ctx context.Context, ev Event, c Candidate) error {
	// re-fetch so the write is based on the backend's current record, not
	// on a possibly stale cache snapshot
	current, err := b.service.Events.Get(b.calendarID, ev.NativeID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("Google.Update: get failed: %w", err)
	}
	current.Summary = c.Title
	current.Start = &calendar.EventDateTime{
		DateTime: c.Start.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
	}
	current.End = &calendar.EventDateTime{
		DateTime: c.End.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
	}
	if c.Location != "" {
		current.Location = c.Location
	}
	if c.Description != "" {
		current.Description = c.Description
	}
	if _, err := b.service.Events.Update(b.calendarID, ev.NativeID, current).Context(ctx).Do(); err != nil {
		return fmt.Errorf("Google.Update: update failed: %w", err)
	}
	return nil
}
