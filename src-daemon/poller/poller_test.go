package poller

import (
	"fmt"
	"testing"
	"time"

	"mail2cal/src-daemon/utils"
)

func testPoller(cycle func() (CycleResult, error)) *Poller {
	return &Poller{
		processed:     make(map[string]struct{}),
		metrics:       utils.NewMetric(),
		interval:      time.Millisecond,
		retryInterval: time.Millisecond,
		maxFailures:   maxConsecutiveFailures,
		cycle:         cycle,
	}
}

func TestRunTripsCircuitBreaker(t *testing.T) {
	calls := 0
	p := testPoller(func() (CycleResult, error) {
		calls++
		return CycleResult{}, fmt.Errorf("boom %d", calls)
	})

	stopCh := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(stopCh) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected an error after repeated failed cycles")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("circuit breaker never tripped")
	}
	if calls != maxConsecutiveFailures {
		t.Error("expected exactly", maxConsecutiveFailures, "cycle attempts, got", calls)
	}
}

func TestRunResetsFailureCountOnSuccess(t *testing.T) {
	// fail maxFailures-1 times, succeed once, fail maxFailures times more;
	// the breaker must only trip on the second streak
	calls := 0
	p := testPoller(func() (CycleResult, error) {
		calls++
		if calls == maxConsecutiveFailures {
			return CycleResult{}, nil
		}
		return CycleResult{}, fmt.Errorf("boom")
	})

	stopCh := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(stopCh) }()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("circuit breaker never tripped")
	}
	want := maxConsecutiveFailures + maxConsecutiveFailures
	if calls != want {
		t.Error("expected", want, "cycle attempts, got", calls)
	}
}

func TestRunStopsOnChannelClose(t *testing.T) {
	started := make(chan struct{})
	p := testPoller(func() (CycleResult, error) {
		select {
		case <-started:
		default:
			close(started)
		}
		return CycleResult{}, nil
	})

	stopCh := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(stopCh) }()

	<-started
	close(stopCh)
	select {
	case err := <-errCh:
		if err != nil {
			t.Error("orderly stop should not report an error, got", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestNextDelayLinearAndCapped(t *testing.T) {
	p := testPoller(nil)
	p.retryInterval = time.Minute

	if got := p.nextDelay(1); got != time.Minute {
		t.Error("first failure should wait one interval, got", got)
	}
	if got := p.nextDelay(3); got != 3*time.Minute {
		t.Error("third failure should wait three intervals, got", got)
	}
	if got := p.nextDelay(9); got != 5*time.Minute {
		t.Error("delay should cap at five intervals, got", got)
	}
}
