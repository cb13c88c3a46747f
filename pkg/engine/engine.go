package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/germanamz/modelrouter/pkg/catalog"
	"github.com/germanamz/modelrouter/pkg/dispatch"
	"github.com/germanamz/modelrouter/pkg/docextract"
	"github.com/germanamz/modelrouter/pkg/metrics"
	"github.com/germanamz/modelrouter/pkg/router"
	"github.com/germanamz/modelrouter/pkg/tracesink"
	"github.com/germanamz/modelrouter/pkg/turncontext"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoTraceDB is returned by RecentTraces when no trace database is configured.
var ErrNoTraceDB = errors.New("engine: trace database not configured")

// Options holds runtime collaborators that do not come from Config.
type Options struct {
	Logger *slog.Logger
	// Registerer receives the engine's metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// FirstTokenTimeout closes reply streams that produce nothing in time.
	// Zero disables the watchdog.
	FirstTokenTimeout time.Duration
	// Sinks receive every routing trace in addition to the built-in ones.
	Sinks []router.TraceSink
}

// Engine is the composition root that assembles all components from
// configuration and exposes them through a frontend-agnostic API.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	events     *EventBus
	provider   Provider
	registry   *catalog.Registry
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Collector
	traces     *tracesink.SQLite
	firstToken time.Duration
}

// New creates an Engine from the given configuration. It validates the config,
// creates the provider, opens the trace database when configured, and wires
// the routing pipeline.
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	provider, backend, err := buildProvider(cfg.Provider, cfg.Models)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		log:        logger,
		events:     NewEventBus(),
		provider:   provider,
		metrics:    metrics.New(opts.Registerer),
		firstToken: opts.FirstTokenTimeout,
	}

	if cfg.Trace.DBPath != "" {
		e.traces, err = tracesink.OpenSQLite(cfg.Trace.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	e.registry = catalog.NewRegistry(provider, catalog.Options{
		Blueprint:  cfg.Blueprint(),
		TTL:        cfg.CacheTTL(),
		Logger:     logger,
		OnFallback: e.metrics.CatalogFallback,
	})

	builder := turncontext.New(turncontext.Options{
		Extractor:      docextract.New(logger),
		Transcriber:    provider,
		Completer:      backend,
		EnableDocParse: cfg.Router.EnableDocParse,
		DocParseModel:  cfg.Models.DocParse,
		EnableASR:      cfg.Router.EnableASR,
		ASRProvider:    cfg.Router.ASRProvider,
		Logger:         logger,
	})

	sinks := tracesink.Multi{tracesink.NewLog(logger, slog.LevelInfo), e.metrics}
	if e.traces != nil {
		sinks = append(sinks, e.traces)
	}
	sinks = append(sinks, opts.Sinks...)

	e.router = router.New(router.Options{
		Config:    cfg.RouterConfig(),
		Catalog:   e.registry,
		Context:   builder,
		Completer: backend,
		Sink:      sinks,
		Logger:    logger,
	})

	e.dispatcher = dispatch.New(dispatch.Options{
		Streamer:   backend,
		MaxRetries: retriesOption(cfg.Dispatch.MaxRetries),
		BaseDelay:  time.Duration(cfg.Dispatch.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Dispatch.RetryMaxDelayMs) * time.Millisecond,
		Observer:   e.metrics,
		Logger:     logger,
	})

	return e, nil
}

// retriesOption maps a configured retry count onto dispatch.Options, where
// zero selects the default and a negative value disables retries.
func retriesOption(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Config returns the configuration the engine was built from.
func (e *Engine) Config() Config { return e.cfg }

// Router returns the engine's router, e.g. to compute a decision without
// dispatching it.
func (e *Engine) Router() *router.Router { return e.router }

// Dispatcher returns the engine's dispatcher.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

// Models returns the current model catalog. With refresh set the cache is
// invalidated first.
func (e *Engine) Models(ctx context.Context, refresh bool) *catalog.Catalog {
	if refresh {
		e.registry.Invalidate()
	}
	return e.registry.Catalog(ctx)
}

// Turn routes one turn and opens the reply stream on the chosen model or one
// of its fallbacks. On total failure the returned error wraps a
// *dispatch.ExhaustedError.
func (e *Engine) Turn(ctx context.Context, turn router.Turn) (*Reply, error) {
	d, err := e.router.RouteTurn(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("engine: route: %w", err)
	}

	traceID := d.Trace.ID()
	e.events.Publish(Event{
		Kind:    EventRouteDecided,
		TraceID: traceID,
		Model:   d.ChatModel,
		Data:    d.Trace.Record(),
	})

	res, err := e.dispatcher.CreateChatStream(ctx, d.PreparedMessages, d.ChatModel, d.FallbackModels)
	if err != nil {
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &exhausted) {
			e.recordDispatch(ctx, traceID, "", exhausted.Attempts)
		}

		e.events.Publish(Event{
			Kind:    EventDispatchFailed,
			TraceID: traceID,
			Model:   d.ChatModel,
			Data:    err,
		})

		return nil, fmt.Errorf("engine: dispatch: %w", err)
	}

	e.metrics.ObserveServed(res.ModelID)
	e.recordDispatch(ctx, traceID, res.ModelID, res.Attempts)
	e.events.Publish(Event{
		Kind:    EventDispatchOK,
		TraceID: traceID,
		Model:   res.ModelID,
		Data:    DispatchInfo{Model: res.ModelID, Attempts: res.Attempts},
	})

	return e.newReply(d, res), nil
}

// DispatchInfo describes a successful dispatch.
type DispatchInfo struct {
	Model    string
	Attempts []dispatch.Attempt
}

func (e *Engine) recordDispatch(ctx context.Context, traceID, model string, attempts []dispatch.Attempt) {
	if e.traces == nil {
		return
	}
	if err := e.traces.RecordDispatch(ctx, traceID, model, attempts); err != nil {
		e.log.WarnContext(ctx, "engine: record dispatch failed", "trace_id", traceID, "error", err)
	}
}

// RecentTraces returns up to limit stored traces, newest first.
func (e *Engine) RecentTraces(ctx context.Context, limit int) ([]tracesink.Entry, error) {
	if e.traces == nil {
		return nil, ErrNoTraceDB
	}
	return e.traces.Recent(ctx, limit)
}

// Close releases the trace database.
func (e *Engine) Close() error {
	return e.traces.Close()
}
