package mail

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	// register common charsets for decoding non-UTF-8 parts
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jaytaylor/html2text"
)

// ExtractBody walks a raw RFC822 message and returns its plain-text body.
// text/plain wins; an HTML-only message is converted to text; attachments
// are ignored. The result is truncated to maxChars.
func ExtractBody(r io.Reader, maxChars int) (string, error) {
	reader, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("ExtractBody: can't parse message: %w", err)
	}

	var plain, html string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			// a truncated message returns the same error on every call;
			// keep whatever was collected so far
			slog.Warn("stopping email part walk", "error", err)
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			slog.Warn("error reading part content type", "error", err)
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			slog.Warn("error reading email part", "error", err)
			continue
		}
		switch contentType {
		case "text/plain":
			plain = string(content)
		case "text/html":
			html = string(content)
		}
	}

	body := plain
	if body == "" && html != "" {
		converted, err := html2text.FromString(html, html2text.Options{})
		if err != nil {
			return "", fmt.Errorf("ExtractBody: can't convert html body: %w", err)
		}
		body = converted
	}
	return Truncate(strings.TrimSpace(body), maxChars), nil
}

func Truncate(body string, maxChars int) string {
	if maxChars <= 0 || len(body) <= maxChars {
		return body
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	slog.Info("truncating email body", "from", len(body), "to", cut)
	return body[:cut] + "... [truncated]"
}
