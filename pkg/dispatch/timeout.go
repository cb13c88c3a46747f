package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/germanamz/modelrouter/pkg/modeladapter"
)

// ErrFirstTokenTimeout is reported by a stream closed for not producing its
// first delta in time.
var ErrFirstTokenTimeout = errors.New("first_token_timeout")

// TimedStream closes the wrapped stream if no delta arrives within the
// deadline given to FirstTokenTimeout.
type TimedStream struct {
	modeladapter.Stream

	timer *time.Timer

	mu       sync.Mutex
	started  bool
	timedOut bool
}

// FirstTokenTimeout wraps s so it is closed when the first delta takes longer
// than d. Once a delta arrives the deadline no longer applies.
func FirstTokenTimeout(s modeladapter.Stream, d time.Duration) *TimedStream {
	t := &TimedStream{Stream: s}
	t.timer = time.AfterFunc(d, t.expire)
	return t
}

func (t *TimedStream) expire() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.timedOut = true
	t.mu.Unlock()

	_ = t.Stream.Close()
}

func (t *TimedStream) Next() bool {
	ok := t.Stream.Next()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timedOut {
		return false
	}
	if ok && !t.started {
		t.started = true
		t.timer.Stop()
	}
	return ok
}

// Err returns ErrFirstTokenTimeout when the deadline closed the stream.
func (t *TimedStream) Err() error {
	if t.TimedOut() {
		return ErrFirstTokenTimeout
	}
	return t.Stream.Err()
}

func (t *TimedStream) Close() error {
	t.timer.Stop()
	return t.Stream.Close()
}

// TimedOut reports whether the first-token deadline fired.
func (t *TimedStream) TimedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timedOut
}
