// Package poller drives the whole pipeline: poll the inbox, reconcile each
// matching email, keep the books, and survive flaky cycles with capped
// backoff until the circuit breaker decides the environment is broken.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mail2cal/src-daemon/mail"
	"mail2cal/src-daemon/reconcile"
	"mail2cal/src-daemon/utils"

	"github.com/olebedev/when"
)

const maxConsecutiveFailures = 5

// CycleResult is one batch's bookkeeping, reported back to the embedding
// process.
type CycleResult struct {
	Processed int
	Succeeded int
	Outcomes  map[string]reconcile.Outcome
}

type Poller struct {
	as        *utils.AppState
	engine    *reconcile.Engine
	processed map[string]struct{}
	metrics   *utils.Metric

	parser          *when.Parser
	location        *time.Location
	eventPrefix     string
	searchSubject   string
	maxBodyChars    int
	markAsProcessed bool

	interval      time.Duration
	retryInterval time.Duration
	maxFailures   int

	// seams swappable in tests: the batch body, the extraction call, and
	// the journal write
	cycle   func() (CycleResult, error)
	extract func(ctx context.Context, subject, body, sender string) (*utils.RawEvent, error)
	journal func(message *mail.Message, result reconcile.Result)
}

func New(as *utils.AppState, engine *reconcile.Engine) *Poller {
	p := &Poller{
		as:              as,
		engine:          engine,
		processed:       make(map[string]struct{}),
		metrics:         as.MetricChans,
		parser:          as.When,
		location:        as.Config.GetLocation(),
		eventPrefix:     as.Config.GetEventPrefix(),
		searchSubject:   as.Config.GetSearchSubject(),
		maxBodyChars:    as.Config.GetMaxBodyChars(),
		markAsProcessed: as.Config.GetMarkAsProcessed(),
		interval:        as.Config.GetCheckInterval(),
		retryInterval:   as.Config.GetRetryInterval(),
		maxFailures:     maxConsecutiveFailures,
	}
	p.cycle = p.runCycle
	p.extract = as.Extractor.Extract
	p.journal = p.journalToDB
	return p
}

// RunOnce runs a single batch.
func (p *Poller) RunOnce() (CycleResult, error) {
	return p.cycle()
}

// Run polls until stopCh closes or the circuit breaker trips. A failed
// cycle delays the next one by retryInterval scaled linearly with the
// consecutive-failure count, capped at 5x; after 5 consecutive failures the
// loop gives up and returns the last error, treating the situation as an
// unrecoverable environment problem rather than a transient one.
// Cancellation is only honored between batches.
func (p *Poller) Run(stopCh <-chan struct{}) error {
	consecutiveFailures := 0
	for {
		started := time.Now()
		result, err := p.cycle()
		if err != nil {
			consecutiveFailures++
			slog.Error("poll cycle failed", "error", err,
				"consecutive", fmt.Sprintf("%d/%d", consecutiveFailures, p.maxFailures))
			if consecutiveFailures >= p.maxFailures {
				return fmt.Errorf("Run: %d consecutive failed cycles, giving up: %w",
					consecutiveFailures, err)
			}
			delay := p.nextDelay(consecutiveFailures)
			slog.Info("retrying", "in", delay)
			select {
			case <-stopCh:
				return nil
			case <-time.After(delay):
			}
			continue
		}

		consecutiveFailures = 0
		select {
		case p.metrics.CycleDuration <- float64(time.Since(started).Milliseconds()):
		default:
		}
		if result.Processed > 0 {
			slog.Info("cycle done",
				"processed", result.Processed, "succeeded", result.Succeeded)
		}

		select {
		case <-stopCh:
			return nil
		case <-time.After(p.interval):
		}
	}
}

// linear backoff, capped at 5x the retry interval
func (p *Poller) nextDelay(consecutiveFailures int) time.Duration {
	scale := consecutiveFailures
	if scale > 5 {
		scale = 5
	}
	return p.retryInterval * time.Duration(scale)
}
