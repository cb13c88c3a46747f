package modeladapter

import (
	"strings"
	"sync"
)

// Delta is one incremental piece of a streamed completion.
type Delta struct {
	Content      string
	FinishReason string
}

// Stream is a pull-based sequence of completion deltas.
//
// Next advances to the next delta and reports whether one is available;
// Current returns it. Once Next returns false, Err reports the terminal error,
// if any. Close aborts the underlying request; it may be called concurrently
// with Next and more than once. After Close, Next returns false.
type Stream interface {
	Next() bool
	Current() Delta
	Err() error
	Close() error
}

// Collect drains s and returns the concatenated content. The stream is
// closed before returning.
func Collect(s Stream) (string, error) {
	defer func() { _ = s.Close() }()

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Current().Content)
	}

	return b.String(), s.Err()
}

// SliceStream is an in-memory Stream over fixed deltas, optionally ending
// with an error. It is useful for tests and for replaying buffered replies.
type SliceStream struct {
	mu     sync.Mutex
	deltas []Delta
	err    error
	pos    int
	closed bool
}

// NewSliceStream returns a stream yielding deltas, then err from Err.
func NewSliceStream(deltas []Delta, err error) *SliceStream {
	return &SliceStream{deltas: deltas, err: err, pos: -1}
}

// TextStream returns a stream yielding one delta per chunk.
func TextStream(chunks ...string) *SliceStream {
	deltas := make([]Delta, len(chunks))
	for i, c := range chunks {
		deltas[i] = Delta{Content: c}
	}
	return NewSliceStream(deltas, nil)
}

func (s *SliceStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.pos+1 >= len(s.deltas) {
		s.pos = len(s.deltas)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos < 0 || s.pos >= len(s.deltas) {
		return Delta{}
	}
	return s.deltas[s.pos]
}

func (s *SliceStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.err
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
