package mail_test

import (
	"strings"
	"testing"
	"time"

	"mail2cal/src-daemon/mail"
)

const plainMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Meeting Request\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Let's meet tomorrow at 3pm in room 1.\r\n"

const multipartMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Meeting Request\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"frontier\"\r\n" +
	"\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain text wins\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>html loses</p></body></html>\r\n" +
	"--frontier--\r\n"

const htmlOnlyMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Meeting Request\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Join the <b>sync</b> at 3pm.</p></body></html>\r\n"

func TestExtractBodyPlain(t *testing.T) {
	body, err := mail.ExtractBody(strings.NewReader(plainMessage), 3000)
	if err != nil {
		t.Error(err)
	}
	if body != "Let's meet tomorrow at 3pm in room 1." {
		t.Error("unexpected body", body)
	}
}

func TestExtractBodyPrefersPlainPart(t *testing.T) {
	body, err := mail.ExtractBody(strings.NewReader(multipartMessage), 3000)
	if err != nil {
		t.Error(err)
	}
	if body != "plain text wins" {
		t.Error("unexpected body", body)
	}
}

func TestExtractBodyConvertsHTML(t *testing.T) {
	body, err := mail.ExtractBody(strings.NewReader(htmlOnlyMessage), 3000)
	if err != nil {
		t.Error(err)
	}
	if !strings.Contains(body, "sync") || !strings.Contains(body, "3pm") {
		t.Error("html body should be converted to text, got", body)
	}
	if strings.Contains(body, "<b>") {
		t.Error("converted body should not contain tags, got", body)
	}
}

// a multipart message cut off before its closing boundary
const truncatedMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Meeting Request\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"frontier\"\r\n" +
	"\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"cut off mid-"

func TestExtractBodyTruncatedMultipart(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		mail.ExtractBody(strings.NewReader(truncatedMessage), 3000)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ExtractBody did not return on a truncated message")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := mail.Truncate(long, 10)
	if got != strings.Repeat("a", 10)+"... [truncated]" {
		t.Error("unexpected truncation", got)
	}
	if mail.Truncate("short", 10) != "short" {
		t.Error("short bodies should pass through")
	}
	if mail.Truncate(long, 0) != long {
		t.Error("zero limit should disable truncation")
	}

	multi := strings.Repeat("é", 10)
	if got := mail.Truncate(multi, 3); got != "é... [truncated]" {
		t.Error("truncation should back up to a rune boundary, got", got)
	}
}
