package main

import (
	"fmt"
	"io"

	"github.com/germanamz/modelrouter/pkg/engine"
	"github.com/germanamz/modelrouter/pkg/router"
)

// eventLine formats an engine event for the status stream. Events with
// nothing worth showing yield "".
func eventLine(e engine.Event) string {
	switch e.Kind {
	case engine.EventRouteDecided:
		rec, ok := e.Data.(router.TraceRecord)
		if !ok {
			return ""
		}
		return dimStyle.Render(fmt.Sprintf("  trace %s: %s → %s", e.TraceID, rec.Reason, e.Model))
	case engine.EventDispatchOK:
		info, ok := e.Data.(engine.DispatchInfo)
		if !ok || len(info.Attempts) == 0 {
			return ""
		}
		return reasonStyle.Render(fmt.Sprintf("  served by %s after %d failed attempts", info.Model, len(info.Attempts)))
	case engine.EventDispatchFailed:
		msg := "unknown error"
		if err, ok := e.Data.(error); ok {
			msg = err.Error()
		}
		return failedStyle.Render(fmt.Sprintf("  ✗ dispatch failed (primary %s): %s", e.Model, msg))
	case engine.EventFirstTokenTimeout:
		return failedStyle.Render(fmt.Sprintf("  ✗ %s sent no first token in time", e.Model))
	}
	return ""
}

// watchEvents prints engine events to w as they are published. The returned
// stop function unsubscribes and waits until every buffered event is written.
func watchEvents(bus *engine.EventBus, w io.Writer) (stop func()) {
	sub := bus.Subscribe(64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range sub.C {
			if line := eventLine(e); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()

	return func() {
		bus.Unsubscribe(sub)
		<-done
	}
}
