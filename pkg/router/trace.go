package router

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/germanamz/modelrouter/pkg/attachment"
)

// Used-model keys in a trace, in addition to turncontext.UsedDocParse and
// turncontext.UsedASR.
const (
	UsedMultimodal = "multimodal"
	UsedVision     = "vision"
	UsedOCR        = "ocr"
)

// TraceSink receives the routing trace of every turn. Implementations handle
// their own failures.
type TraceSink interface {
	Emit(ctx context.Context, t *Trace)
}

// Trace describes one routing decision. It is built once per turn and never
// mutated; accessors return copies.
type Trace struct {
	id            string
	mode          Mode
	reason        Reason
	selectedModel string
	fallbackChain []string
	usedModels    map[string]string
	attachments   attachment.Counts
	asrProvider   string
	timestamp     time.Time
}

// TraceRecord is a flat, serializable copy of a Trace.
type TraceRecord struct {
	TraceID       string            `json:"trace_id"`
	Mode          Mode              `json:"mode"`
	Reason        Reason            `json:"router_reason"`
	SelectedModel string            `json:"selected_model"`
	FallbackChain []string          `json:"fallback_chain"`
	UsedModels    map[string]string `json:"used_models"`
	Attachments   attachment.Counts `json:"attachments"`
	ASRProvider   string            `json:"asr_provider"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (t *Trace) ID() string                     { return t.id }
func (t *Trace) Mode() Mode                     { return t.mode }
func (t *Trace) Reason() Reason                 { return t.reason }
func (t *Trace) SelectedModel() string          { return t.selectedModel }
func (t *Trace) FallbackChain() []string        { return slices.Clone(t.fallbackChain) }
func (t *Trace) UsedModels() map[string]string  { return maps.Clone(t.usedModels) }
func (t *Trace) Attachments() attachment.Counts { return t.attachments }
func (t *Trace) ASRProvider() string            { return t.asrProvider }
func (t *Trace) Timestamp() time.Time           { return t.timestamp }

// NewTrace builds a Trace from a record, copying its slices and maps.
func NewTrace(rec TraceRecord) *Trace {
	return &Trace{
		id:            rec.TraceID,
		mode:          rec.Mode,
		reason:        rec.Reason,
		selectedModel: rec.SelectedModel,
		fallbackChain: slices.Clone(rec.FallbackChain),
		usedModels:    maps.Clone(rec.UsedModels),
		attachments:   rec.Attachments,
		asrProvider:   rec.ASRProvider,
		timestamp:     rec.Timestamp,
	}
}

// Record returns a copy of the trace as a TraceRecord.
func (t *Trace) Record() TraceRecord {
	chain := t.FallbackChain()
	if chain == nil {
		chain = []string{}
	}

	used := t.UsedModels()
	if used == nil {
		used = map[string]string{}
	}

	return TraceRecord{
		TraceID:       t.id,
		Mode:          t.mode,
		Reason:        t.reason,
		SelectedModel: t.selectedModel,
		FallbackChain: chain,
		UsedModels:    used,
		Attachments:   t.attachments,
		ASRProvider:   t.asrProvider,
		Timestamp:     t.timestamp,
	}
}

// MarshalJSON encodes the trace as its TraceRecord.
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Record())
}
