package poller

import (
	"context"
	"fmt"
	"log/slog"

	"mail2cal/src-daemon/mail"
	"mail2cal/src-daemon/model"
	"mail2cal/src-daemon/reconcile"

	"github.com/google/uuid"
)

// inbox is the mailbox surface one batch needs; tests swap in a fake.
type inbox interface {
	UnreadMatching(subject string) ([]uint32, error)
	Fetch(seqNum uint32, maxBodyChars int) (*mail.Message, error)
	MarkSeen(seqNum uint32) error
	MarkUnseen(seqNum uint32) error
	Logout()
}

// runCycle dials the mail server and hands the connection to one batch.
// Per-email trouble is contained inside the batch; only connection-level
// failure escalates to the loop.
func (p *Poller) runCycle() (CycleResult, error) {
	mailbox, err := mail.Dial(
		p.as.Config.GetImapAddr(),
		p.as.Config.GetImapUser(),
		p.as.Config.GetImapAppPassword(),
	)
	if err != nil {
		return CycleResult{Outcomes: make(map[string]reconcile.Outcome)},
			fmt.Errorf("runCycle: %w", err)
	}
	defer mailbox.Logout()
	return p.runBatch(mailbox)
}

// runBatch processes one batch of unread matching emails, strictly
// sequentially; one email is fully reconciled before the next is touched.
func (p *Poller) runBatch(mailbox inbox) (CycleResult, error) {
	result := CycleResult{Outcomes: make(map[string]reconcile.Outcome)}

	seqNums, err := mailbox.UnreadMatching(p.searchSubject)
	if err != nil {
		return result, fmt.Errorf("runBatch: %w", err)
	}
	if len(seqNums) == 0 {
		slog.Debug("no new matching emails found")
		return result, nil
	}
	slog.Info("found new matching emails", "count", len(seqNums))

	for _, seqNum := range seqNums {
		outcome := p.processMessage(mailbox, seqNum)
		if outcome == "" {
			continue // already handled this run
		}
		result.Processed++
		result.Outcomes[fmt.Sprint(seqNum)] = outcome
		switch outcome {
		case reconcile.OutcomeCreated, reconcile.OutcomeUpdated, reconcile.OutcomeDuplicate:
			result.Succeeded++
		}
		select {
		case p.metrics.EmailOutcome <- string(outcome):
		default:
		}
	}
	return result, nil
}

// processMessage walks one email through fetch, extract, reconcile, and
// mark. Returns "" when the message was skipped as already processed.
func (p *Poller) processMessage(mailbox inbox, seqNum uint32) reconcile.Outcome {
	ctx := context.Background()

	message, err := mailbox.Fetch(seqNum, p.maxBodyChars)
	if err != nil {
		slog.Error("can't fetch email", "seq", seqNum, "error", err)
		return reconcile.OutcomeFailed
	}
	if _, done := p.processed[message.MessageID]; done {
		slog.Debug("skipping already processed email", "message_id", message.MessageID)
		return ""
	}
	slog.Info("processing email", "from", message.Sender, "subject", message.Subject)

	raw, err := p.extract(ctx, message.Subject, message.Body, message.Sender)
	if err != nil {
		slog.Error("can't extract event from email", "subject", message.Subject, "error", err)
		p.leaveUnread(mailbox, seqNum)
		return reconcile.OutcomeFailed
	}
	if raw == nil {
		slog.Warn("no event details found in email", "subject", message.Subject)
		p.finishWithoutEvent(mailbox, message, "no-event")
		return reconcile.OutcomeDiscarded
	}

	candidate := p.buildCandidate(raw)
	result := p.engine.Reconcile(ctx, candidate)

	switch {
	case result.Success():
		p.processed[message.MessageID] = struct{}{}
		if p.markAsProcessed {
			if err := mailbox.MarkSeen(seqNum); err != nil {
				slog.Warn("can't mark email as read", "seq", seqNum, "error", err)
			}
		}
		slog.Info("email synced", "subject", message.Subject, "outcome", result.Outcome)
	case result.Outcome == reconcile.OutcomeDiscarded:
		p.finishWithoutEvent(mailbox, message, string(result.Outcome))
	default:
		// left unread: the visible signal that the event is not durably synced
		slog.Warn("failed to sync event to any calendar", "subject", message.Subject)
		p.leaveUnread(mailbox, seqNum)
	}

	p.journal(message, result)
	return result.Outcome
}

// finishWithoutEvent settles an email that yielded no usable candidate:
// marked read (and remembered) when configured, left unread otherwise.
func (p *Poller) finishWithoutEvent(mailbox inbox, message *mail.Message, outcome string) {
	if p.markAsProcessed {
		if err := mailbox.MarkSeen(message.SeqNum); err != nil {
			slog.Warn("can't mark email as read", "seq", message.SeqNum, "error", err)
			return
		}
		p.processed[message.MessageID] = struct{}{}
		slog.Info("marked email as read despite no event data", "subject", message.Subject)
		return
	}
	p.leaveUnread(mailbox, message.SeqNum)
}

func (p *Poller) leaveUnread(mailbox inbox, seqNum uint32) {
	if err := mailbox.MarkUnseen(seqNum); err != nil {
		slog.Warn("can't keep email unread", "seq", seqNum, "error", err)
	}
}

func (p *Poller) journalToDB(message *mail.Message, result reconcile.Result) {
	record := model.SyncRecord{
		ID:            uuid.NewString(),
		MessageID:     message.MessageID,
		Subject:       message.Subject,
		Outcome:       string(result.Outcome),
		Backend:       result.Backend.String(),
		NativeEventID: result.NativeID,
		Score:         result.Score,
	}
	if err := record.Insert(context.Background(), p.as.BunDB); err != nil {
		slog.Warn("can't journal sync record", "message_id", message.MessageID, "error", err)
	}
}
