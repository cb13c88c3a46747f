// Package dispatch opens a chat stream on the first model that answers,
// retrying transient upstream failures with bounded exponential backoff
// before moving on to the next candidate.
//
// The loop is an explicit state machine:
//
//	trying(model, n) -> backoff -> trying(model, n+1)
//	trying(model, n) -> next    -> trying(model', 0) | failed
//
// Each collaborator call yields a tagged outcome (success, retryable or
// terminal). Candidates are tried strictly one at a time.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/germanamz/modelrouter/pkg/chats/message"
	"github.com/germanamz/modelrouter/pkg/modeladapter"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 300 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second

	maxJitter = 250 * time.Millisecond
)

// retryableStatuses are the upstream HTTP statuses worth retrying.
var retryableStatuses = []int{408, 409, 425, 429, 500, 502, 503, 504}

// Retryable reports whether an upstream HTTP status is transient.
func Retryable(status int) bool { return slices.Contains(retryableStatuses, status) }

// Observer is notified of every failed attempt and of total exhaustion.
type Observer interface {
	ObserveAttempt(a Attempt)
	ObserveExhausted()
}

// Options configures a Dispatcher.
type Options struct {
	Streamer modeladapter.Streamer
	// MaxRetries is the number of retries per model after the first try.
	// Zero uses DefaultMaxRetries; a negative value disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Observer   Observer
	Logger     *slog.Logger
}

// Dispatcher runs the retry and fallback loop.
type Dispatcher struct {
	streamer   modeladapter.Streamer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	observer   Observer
	log        *slog.Logger

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc is used for testing; returns a value in [0, 1).
	randFunc func() float64
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = DefaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	base := opts.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{
		streamer:   opts.Streamer,
		maxRetries: maxRetries,
		baseDelay:  base,
		maxDelay:   maxDelay,
		observer:   opts.Observer,
		log:        logger,
		sleepFunc:  modeladapter.ContextSleep,
		randFunc:   rand.Float64,
	}
}

// SetSleepFunc overrides the sleep function (for testing).
func (d *Dispatcher) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	d.sleepFunc = fn
}

// SetRandFunc overrides the jitter source (for testing).
func (d *Dispatcher) SetRandFunc(fn func() float64) { d.randFunc = fn }

// Backoff returns the delay before retry n (0-based): min(max, base*2^n)
// plus a jitter of r*min(base, 250ms), with r in [0, 1).
func Backoff(base, maxDelay time.Duration, n int, r float64) time.Duration {
	expo := maxDelay
	if n < 63 && base <= maxDelay>>n {
		expo = base << n
	}

	jitterCap := min(base, maxJitter)

	return expo + time.Duration(r*float64(jitterCap))
}

// Candidates returns primary followed by fallbacks, without empty ids or
// repeats.
func Candidates(primary string, fallbacks []string) []string {
	out := make([]string, 0, len(fallbacks)+1)
	for _, id := range append([]string{primary}, fallbacks...) {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Result is an open stream and how it was obtained.
type Result struct {
	Stream   modeladapter.Stream
	ModelID  string
	Attempts []Attempt // failed attempts before the stream opened
}

type state int

const (
	stateTrying state = iota
	stateBackoff
	stateNextModel
	stateFailed
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomeTerminal
)

type outcome struct {
	kind    outcomeKind
	stream  modeladapter.Stream
	attempt Attempt
}

// CreateChatStream opens a stream on primary or, failing that, on each
// fallback in order. It never retries once a stream is open. On total failure
// it returns an *ExhaustedError carrying every attempt; if ctx ends first the
// ExhaustedError wraps ctx.Err().
func (d *Dispatcher) CreateChatStream(ctx context.Context, messages []message.Message, primary string, fallbacks []string) (*Result, error) {
	candidates := Candidates(primary, fallbacks)

	var (
		attempts []Attempt
		model    int
		n        int
		st       = stateTrying
	)
	if len(candidates) == 0 {
		st = stateFailed
	}

	for {
		switch st {
		case stateTrying:
			out := d.try(ctx, messages, candidates[model], n)
			if out.kind == outcomeSuccess {
				if len(attempts) > 0 {
					d.log.InfoContext(ctx, "dispatch: recovered", "model", candidates[model], "failed_attempts", len(attempts))
				}
				return &Result{Stream: out.stream, ModelID: candidates[model], Attempts: attempts}, nil
			}

			attempts = append(attempts, out.attempt)
			if d.observer != nil {
				d.observer.ObserveAttempt(out.attempt)
			}

			if err := ctx.Err(); err != nil {
				return nil, &ExhaustedError{Attempts: attempts, Err: err}
			}

			st = stateNextModel
			if out.kind == outcomeRetryable && n < d.maxRetries {
				st = stateBackoff
			}

		case stateBackoff:
			delay := Backoff(d.baseDelay, d.maxDelay, n, d.randFunc())
			d.log.DebugContext(ctx, "dispatch: backing off", "model", candidates[model], "attempt", n, "delay", delay)

			if err := d.sleepFunc(ctx, delay); err != nil {
				return nil, &ExhaustedError{Attempts: attempts, Err: err}
			}
			n++
			st = stateTrying

		case stateNextModel:
			model++
			n = 0
			st = stateTrying
			if model >= len(candidates) {
				st = stateFailed
			}

		case stateFailed:
			if d.observer != nil {
				d.observer.ObserveExhausted()
			}
			err := &ExhaustedError{Attempts: attempts}
			d.log.ErrorContext(ctx, "dispatch: all candidates failed", "candidates", len(candidates), "error", err)
			return nil, err
		}
	}
}

// try makes one streaming call and classifies the result.
func (d *Dispatcher) try(ctx context.Context, messages []message.Message, model string, n int) outcome {
	s, err := d.streamer.Stream(ctx, modeladapter.Request{Model: model, Messages: messages})
	if err == nil {
		return outcome{kind: outcomeSuccess, stream: s}
	}

	status := modeladapter.StatusCode(err)
	a := Attempt{
		Model:     model,
		Index:     n,
		Retryable: Retryable(status),
		Status:    status,
		Message:   err.Error(),
	}
	if a.Message == "" {
		a.Message = "unknown_error"
	}

	d.log.WarnContext(ctx, "dispatch: attempt failed",
		"model", model,
		"attempt", n,
		"status", status,
		"retryable", a.Retryable,
		"error", err,
	)

	if a.Retryable {
		return outcome{kind: outcomeRetryable, attempt: a}
	}
	return outcome{kind: outcomeTerminal, attempt: a}
}
