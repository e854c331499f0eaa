package shield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is the orchestrator's position in the retry state machine.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateBackoffWait
	StateSucceeded
	StateFatallyFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateBackoffWait:
		return "backoff_wait"
	case StateSucceeded:
		return "succeeded"
	case StateFatallyFailed:
		return "fatally_failed"
	default:
		return "unknown"
	}
}

// Schedule maps a 1-indexed attempt number to the wait before the next
// attempt. Delays never decrease as the attempt number grows.
type Schedule struct {
	Base      time.Duration
	Increment time.Duration
	Ceiling   time.Duration
}

func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := s.Base + time.Duration(attempt-1)*s.Increment
	if s.Ceiling > 0 && d > s.Ceiling {
		d = s.Ceiling
	}

	return d
}

// Orchestrator drives repeated upstream attempts for a single client
// request. One instance per request; it is not safe for concurrent use and
// is discarded when the request resolves.
type Orchestrator struct {
	fetcher     *Fetcher
	classifier  *Classifier
	schedule    Schedule
	maxAttempts int // 0 means unbounded
	logger      *slog.Logger

	state   State
	attempt int
	waited  time.Duration

	// OnAttempt and OnRetry are optional observation hooks. OnRetry fires
	// when a retryable failure has been accepted and a backoff wait is
	// about to begin.
	OnAttempt func()
	OnRetry   func(kind Kind, delay time.Duration)
}

func NewOrchestrator(fetcher *Fetcher, classifier *Classifier, schedule Schedule, maxAttempts int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:     fetcher,
		classifier:  classifier,
		schedule:    schedule,
		maxAttempts: maxAttempts,
		logger:      logger,
		state:       StateIdle,
	}
}

func (o *Orchestrator) State() State { return o.state }

// Attempts returns how many upstream attempts have been made so far.
func (o *Orchestrator) Attempts() int { return o.attempt }

// Waited returns the total time spent in backoff waits.
func (o *Orchestrator) Waited() time.Duration { return o.waited }

// Run executes the attempt loop until one attempt yields a clean buffer, a
// fatal failure occurs, attempts run out, or the client goes away. All
// retryable failures stay contained here; the caller only ever sees a full
// buffer or one terminal error.
func (o *Orchestrator) Run(ctx context.Context, payload []byte) ([]byte, *Error) {
	var last *Error

	for {
		o.attempt++
		o.state = StateAttempting

		if o.OnAttempt != nil {
			o.OnAttempt()
		}

		outcome := o.attemptOnce(ctx, payload)
		if outcome.Success() {
			o.state = StateSucceeded
			return outcome.Buffer, nil
		}

		last = outcome.Failure

		if !last.Retryable() {
			o.state = StateFatallyFailed
			return nil, last
		}

		// A canceled client turns body reads into transport aborts;
		// do not mistake that for an upstream failure worth retrying.
		if err := ctx.Err(); err != nil {
			o.state = StateFatallyFailed
			return nil, errorf(KindTransportAbort, err, "client went away during attempt %d", o.attempt)
		}

		if o.maxAttempts > 0 && o.attempt >= o.maxAttempts {
			o.state = StateFatallyFailed
			return nil, &Error{
				Kind:    KindRetriesExhausted,
				Message: fmt.Sprintf("no clean upstream response after %d attempts", o.attempt),
				Cause:   last,
			}
		}

		delay := o.schedule.Delay(o.attempt)

		o.logger.Warn("Attempt failed, backing off",
			"attempt", o.attempt,
			"max_attempts", o.maxAttempts,
			"kind", last.Kind.String(),
			"delay", delay,
		)

		o.state = StateBackoffWait

		if o.OnRetry != nil {
			o.OnRetry(last.Kind, delay)
		}

		select {
		case <-ctx.Done():
			o.state = StateFatallyFailed
			return nil, errorf(KindTransportAbort, ctx.Err(), "client went away while waiting to retry")
		case <-time.After(delay):
			o.waited += delay
		}
	}
}

func (o *Orchestrator) attemptOnce(ctx context.Context, payload []byte) Outcome {
	stream, err := o.fetcher.Fetch(ctx, payload)
	if err != nil {
		var serr *Error
		if !errors.As(err, &serr) {
			serr = errorf(KindConnect, err, "upstream attempt failed")
		}

		return Outcome{Failure: serr}
	}
	defer stream.Close()

	return o.classifier.Collect(stream.Body)
}
