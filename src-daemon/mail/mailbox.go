// Package mail is the inbox collaborator: list unread messages matching a
// subject substring, fetch one, and set or clear its read flag.
package mail

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

type Message struct {
	SeqNum    uint32
	MessageID string
	Subject   string
	Sender    string
	Body      string
}

type Mailbox struct {
	client *client.Client
}

func Dial(addr, username, password string) (*Mailbox, error) {
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("Dial: can't connect to %s: %w", addr, err)
	}
	if err := c.Login(username, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("Dial: login failed: %w", err)
	}
	return &Mailbox{client: c}, nil
}

func (m *Mailbox) Logout() {
	if err := m.client.Logout(); err != nil {
		slog.Warn("error during mail logout", "error", err)
	}
}

// UnreadMatching returns the sequence numbers of unseen inbox messages
// whose subject contains the given substring.
func (m *Mailbox) UnreadMatching(subject string) ([]uint32, error) {
	if _, err := m.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("UnreadMatching: can't select inbox: %w", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("Subject", subject)
	seqNums, err := m.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("UnreadMatching: search failed: %w", err)
	}
	return seqNums, nil
}

// Fetch pulls one raw message and extracts its plain-text body, truncated
// to maxBodyChars.
func (m *Mailbox) Fetch(seqNum uint32, maxBodyChars int) (*Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNum)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.client.Fetch(seqSet, items, messages)
	}()

	raw := <-messages
	if err := <-done; err != nil {
		return nil, fmt.Errorf("Fetch: fetch failed: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("Fetch: no message for seq %d", seqNum)
	}

	message := &Message{SeqNum: seqNum}
	if raw.Envelope != nil {
		message.Subject = raw.Envelope.Subject
		message.MessageID = raw.Envelope.MessageId
		if len(raw.Envelope.From) > 0 {
			message.Sender = raw.Envelope.From[0].Address()
		}
	}
	if message.MessageID == "" {
		message.MessageID = strconv.FormatUint(uint64(seqNum), 10)
	}

	literal := raw.GetBody(section)
	if literal == nil {
		return nil, fmt.Errorf("Fetch: no body for seq %d", seqNum)
	}
	body, err := ExtractBody(literal, maxBodyChars)
	if err != nil {
		// an undecodable body still leaves subject and sender to work with
		slog.Warn("can't extract email body", "seq", seqNum, "error", err)
	}
	message.Body = body
	return message, nil
}

// MarkSeen sets the read flag, taking the message out of future polls.
func (m *Mailbox) MarkSeen(seqNum uint32) error {
	return m.storeFlag(seqNum, imap.AddFlags)
}

// MarkUnseen clears the read flag so the next cycle retries the message.
func (m *Mailbox) MarkUnseen(seqNum uint32) error {
	return m.storeFlag(seqNum, imap.RemoveFlags)
}

func (m *Mailbox) storeFlag(seqNum uint32, op imap.FlagsOp) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNum)
	item := imap.FormatFlagsOp(op, true)
	if err := m.client.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("storeFlag: %w", err)
	}
	return nil
}
