package engine

import (
	"errors"
	"sync"

	"github.com/germanamz/modelrouter/pkg/dispatch"
	"github.com/germanamz/modelrouter/pkg/modeladapter"
	"github.com/germanamz/modelrouter/pkg/router"
)

var _ modeladapter.Stream = (*Reply)(nil)

// Reply is the streamed answer to a turn. Only one goroutine may read it.
type Reply struct {
	// Decision is the routing outcome the reply was dispatched from.
	Decision *router.Decision
	// Model is the model that is serving the stream.
	Model string
	// Attempts are the failed calls made before the stream opened.
	Attempts []dispatch.Attempt

	stream modeladapter.Stream

	timeoutOnce sync.Once
	onTimeout   func()
}

func (e *Engine) newReply(d *router.Decision, res *dispatch.Result) *Reply {
	r := &Reply{
		Decision: d,
		Model:    res.ModelID,
		Attempts: res.Attempts,
		stream:   res.Stream,
	}

	if e.firstToken > 0 {
		r.stream = dispatch.FirstTokenTimeout(res.Stream, e.firstToken)
		traceID := d.Trace.ID()
		r.onTimeout = func() {
			e.metrics.ObserveFirstTokenTimeout()
			e.log.Warn("engine: first token timeout", "trace_id", traceID, "model", res.ModelID, "timeout", e.firstToken)
			e.events.Publish(Event{
				Kind:    EventFirstTokenTimeout,
				TraceID: traceID,
				Model:   res.ModelID,
			})
		}
	}

	return r
}

// TraceID returns the id of the routing trace.
func (r *Reply) TraceID() string { return r.Decision.Trace.ID() }

// Reason returns the routing reason.
func (r *Reply) Reason() router.Reason { return r.Decision.Trace.Reason() }

// Next advances to the next delta.
func (r *Reply) Next() bool { return r.stream.Next() }

// Current returns the current delta.
func (r *Reply) Current() modeladapter.Delta { return r.stream.Current() }

// Err returns the stream error, dispatch.ErrFirstTokenTimeout when the
// watchdog closed the stream.
func (r *Reply) Err() error {
	err := r.stream.Err()
	if errors.Is(err, dispatch.ErrFirstTokenTimeout) && r.onTimeout != nil {
		r.timeoutOnce.Do(r.onTimeout)
	}
	return err
}

// Close releases the stream.
func (r *Reply) Close() error { return r.stream.Close() }
