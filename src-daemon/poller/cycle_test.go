package poller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mail2cal/src-daemon/cal"
	"mail2cal/src-daemon/mail"
	"mail2cal/src-daemon/reconcile"
	"mail2cal/src-daemon/utils"
)

type fakeMailbox struct {
	unread   []uint32
	messages map[uint32]*mail.Message
	seen     []uint32
	unseen   []uint32
}

func (f *fakeMailbox) UnreadMatching(string) ([]uint32, error) { return f.unread, nil }

func (f *fakeMailbox) Fetch(seqNum uint32, _ int) (*mail.Message, error) {
	message, ok := f.messages[seqNum]
	if !ok {
		return nil, fmt.Errorf("no message for seq %d", seqNum)
	}
	return message, nil
}

func (f *fakeMailbox) MarkSeen(seqNum uint32) error {
	f.seen = append(f.seen, seqNum)
	return nil
}

func (f *fakeMailbox) MarkUnseen(seqNum uint32) error {
	f.unseen = append(f.unseen, seqNum)
	return nil
}

func (f *fakeMailbox) Logout() {}

type stubBackend struct {
	kind      cal.BackendKind
	createErr error
	created   int
}

func (s *stubBackend) Kind() cal.BackendKind { return s.kind }

func (s *stubBackend) Events(context.Context, *cal.Window) ([]cal.Event, error) {
	return nil, nil
}

func (s *stubBackend) Create(context.Context, cal.Candidate) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created++
	return fmt.Sprintf("%s-%d", s.kind, s.created), nil
}

func (s *stubBackend) Update(context.Context, cal.Event, cal.Candidate) error {
	return fmt.Errorf("not implemented")
}

func syncRaw() *utils.RawEvent {
	return &utils.RawEvent{
		Title:     "Sync Meeting",
		StartDate: "2024-01-10T15:00:00+00:00",
		EndDate:   "2024-01-10T16:00:00+00:00",
	}
}

func statePoller(backend cal.Backend, extract func(context.Context, string, string, string) (*utils.RawEvent, error)) *Poller {
	p := testPoller(nil)
	p.engine = reconcile.NewEngine(reconcile.DefaultThresholds(),
		cal.NewIndex(backend, time.Minute))
	p.parser = testWhen()
	p.location = time.UTC
	p.maxBodyChars = 3000
	p.markAsProcessed = true
	p.extract = extract
	p.journal = func(*mail.Message, reconcile.Result) {}
	return p
}

func TestRunBatchLeavesUnreadWhenAllWritesFail(t *testing.T) {
	backend := &stubBackend{kind: cal.KindCalDAV, createErr: fmt.Errorf("down")}
	p := statePoller(backend, func(context.Context, string, string, string) (*utils.RawEvent, error) {
		return syncRaw(), nil
	})
	mailbox := &fakeMailbox{
		unread: []uint32{7},
		messages: map[uint32]*mail.Message{
			7: {SeqNum: 7, MessageID: "<a@example.com>", Subject: "Meeting Request"},
		},
	}

	result, err := p.runBatch(mailbox)
	if err != nil {
		t.Error(err)
	}
	if result.Succeeded != 0 {
		t.Error("failed writes must report zero successes, got", result.Succeeded)
	}
	if len(mailbox.unseen) != 1 || mailbox.unseen[0] != 7 {
		t.Error("failed sync should clear the read flag, got", mailbox.unseen)
	}
	if len(mailbox.seen) != 0 {
		t.Error("failed sync must not mark the email read, got", mailbox.seen)
	}
	if _, done := p.processed["<a@example.com>"]; done {
		t.Error("failed sync must stay out of the processed set")
	}
}

func TestProcessMessageMarksReadWhenNoEvent(t *testing.T) {
	backend := &stubBackend{kind: cal.KindCalDAV}
	p := statePoller(backend, func(context.Context, string, string, string) (*utils.RawEvent, error) {
		return nil, nil
	})
	mailbox := &fakeMailbox{
		messages: map[uint32]*mail.Message{
			3: {SeqNum: 3, MessageID: "<b@example.com>", Subject: "Meeting Request"},
		},
	}

	outcome := p.processMessage(mailbox, 3)
	if outcome != reconcile.OutcomeDiscarded {
		t.Error("expected discarded outcome, got", outcome)
	}
	if len(mailbox.seen) != 1 || mailbox.seen[0] != 3 {
		t.Error("no-event email should be marked read when configured, got", mailbox.seen)
	}
	if _, done := p.processed["<b@example.com>"]; !done {
		t.Error("no-event email should enter the processed set once marked read")
	}
	if backend.created != 0 {
		t.Error("no-event email must not touch the backend")
	}
}

func TestProcessMessageKeepsUnreadWhenUnmarked(t *testing.T) {
	backend := &stubBackend{kind: cal.KindCalDAV}
	p := statePoller(backend, func(context.Context, string, string, string) (*utils.RawEvent, error) {
		return nil, nil
	})
	p.markAsProcessed = false
	mailbox := &fakeMailbox{
		messages: map[uint32]*mail.Message{
			4: {SeqNum: 4, MessageID: "<c@example.com>", Subject: "Meeting Request"},
		},
	}

	p.processMessage(mailbox, 4)
	if len(mailbox.seen) != 0 {
		t.Error("MARK_AS_PROCESSED=false must never mark read, got", mailbox.seen)
	}
	if len(mailbox.unseen) != 1 || mailbox.unseen[0] != 4 {
		t.Error("no-event email should stay unread, got", mailbox.unseen)
	}
}

func TestProcessMessageMarksReadOnSuccess(t *testing.T) {
	backend := &stubBackend{kind: cal.KindCalDAV}
	p := statePoller(backend, func(context.Context, string, string, string) (*utils.RawEvent, error) {
		return syncRaw(), nil
	})
	mailbox := &fakeMailbox{
		messages: map[uint32]*mail.Message{
			9: {SeqNum: 9, MessageID: "<d@example.com>", Subject: "Meeting Request"},
		},
	}

	outcome := p.processMessage(mailbox, 9)
	if outcome != reconcile.OutcomeCreated {
		t.Error("expected created outcome, got", outcome)
	}
	if backend.created != 1 {
		t.Error("expected one create, got", backend.created)
	}
	if len(mailbox.seen) != 1 || mailbox.seen[0] != 9 {
		t.Error("synced email should be marked read, got", mailbox.seen)
	}
	if _, done := p.processed["<d@example.com>"]; !done {
		t.Error("synced email should enter the processed set")
	}
}
