package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	fencePattern = regexp.MustCompile("(?s)```(?:json)?(.*?)```")
	jsonPattern  = regexp.MustCompile(`(?s)({.*})`)
)

// Extractor turns one email into a raw event description using an
// OpenAI-compatible chat-completions endpoint.
type Extractor struct {
	apiKey   string
	model    string
	location *time.Location
	client   *http.Client
}

func NewExtractor(apiKey, model string) (*Extractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewExtractor: api key is blank")
	}
	if model == "" {
		return nil, fmt.Errorf("NewExtractor: model is blank")
	}
	return &Extractor{
		apiKey:   apiKey,
		model:    model,
		location: time.UTC,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Timezone used to anchor "tomorrow"-style relative dates in the prompt.
func (e *Extractor) SetLocation(loc *time.Location) {
	if loc != nil {
		e.location = loc
	}
}

// What the model hands back. Dates are ISO-8601 strings with an explicit
// UTC offset; anything else is repaired downstream.
type RawEvent struct {
	Title       string `json:"title"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// Extract asks the model for calendar event details hidden in one email.
// Returns (nil, nil) when the email contains no usable event; an error only
// when the API call or its response is broken.
func (e *Extractor) Extract(ctx context.Context, subject, body, sender string) (*RawEvent, error) {
	if sender == "" {
		sender = "Unknown"
	}
	now := time.Now().In(e.location).Format("2006-01-02 15:04:05 MST")
	prompt := fmt.Sprintf(`The current date and time is: %s
Parse this email and extract calendar event information. Return ONLY valid JSON with these fields:
- title (string): Event title/summary.
- start_date (string): ISO format date/time (YYYY-MM-DDTHH:MM:SS+00:00) in UTC
- end_date (string): ISO format date/time (YYYY-MM-DDTHH:MM:SS+00:00) in UTC
- location (string, optional): Event location
- description (string, optional): Event description, Zoom/Meeting url (if available)
If dates are relative (like "tomorrow" or "next Friday"), calculate actual dates based on the current date.
If times are ambiguous (like "3pm"), use context to determine AM/PM.
If end time is not specified, assume 1 hour duration.
If no valid event information can be found, return empty JSON {}.
Email Details:
From: %s
Subject: %s
Body:
%s`, now, sender, subject, body)

	reqBody := struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Model          string  `json:"model"`
		Temperature    float64 `json:"temperature"`
		MaxTokens      int     `json:"max_tokens"`
		Stream         bool    `json:"stream"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}{
		Messages: []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{
			{Role: "user", Content: prompt},
		},
		Model:       e.model,
		Temperature: 0.1,
		MaxTokens:   1000,
		Stream:      false,
		ResponseFormat: struct {
			Type string `json:"type"`
		}{
			Type: "json_object",
		},
	}
	reqBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("Extract: failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		"POST",
		"https://api.groq.com/openai/v1/chat/completions",
		bytes.NewBuffer(reqBodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("Extract: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Extract: failed to do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Extract: bad status code: %d", resp.StatusCode)
	}
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Extract: failed to read body: %w", err)
	}

	var respBody struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBytes, &respBody); err != nil {
		return nil, fmt.Errorf("Extract: failed to unmarshal response: %w", err)
	}
	if len(respBody.Choices) == 0 {
		return nil, fmt.Errorf("Extract: no choices")
	}

	return ParseRawEvent(respBody.Choices[0].Message.Content)
}

// ParseRawEvent digs the event JSON out of a model response, tolerating
// markdown fences and prose around the object. Returns (nil, nil) when the
// model reported no event or required fields are missing.
func ParseRawEvent(content string) (*RawEvent, error) {
	content = strings.TrimSpace(content)
	if match := fencePattern.FindStringSubmatch(content); match != nil {
		content = strings.TrimSpace(match[1])
	}
	if match := jsonPattern.FindStringSubmatch(content); match != nil {
		content = match[1]
	}

	var raw RawEvent
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("ParseRawEvent: failed to unmarshal content: %w", err)
	}
	if raw.Title == "" || raw.StartDate == "" {
		return nil, nil
	}
	raw.StartDate = repairOffset(raw.StartDate)
	if raw.EndDate != "" {
		raw.EndDate = repairOffset(raw.EndDate)
	}
	return &raw, nil
}

// The model sometimes drops the UTC offset despite the prompt; assume UTC.
// Only the clock portion is inspected, so date-only strings and negative
// offsets pass through untouched.
func repairOffset(date string) string {
	_, clock, found := strings.Cut(date, "T")
	if !found {
		return date
	}
	if strings.ContainsAny(clock, "+-") || strings.HasSuffix(clock, "Z") {
		return date
	}
	return date + "+00:00"
}
