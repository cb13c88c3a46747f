// Package router decides which model serves a turn.
//
// RouteTurn applies a fixed sequence of rules, each of which may override the
// model chosen by the previous ones: choice normalization, multimodal
// escalation, vision escalation (with an OCR fallback), and hard-task
// escalation. It then picks a fallback chain, merges attachment context into
// the conversation, and emits a Trace.
package router

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/germanamz/modelrouter/pkg/attachment"
	"github.com/germanamz/modelrouter/pkg/catalog"
	"github.com/germanamz/modelrouter/pkg/chats/chat"
	"github.com/germanamz/modelrouter/pkg/chats/content"
	"github.com/germanamz/modelrouter/pkg/chats/message"
	"github.com/germanamz/modelrouter/pkg/chats/role"
	"github.com/germanamz/modelrouter/pkg/modeladapter"
	"github.com/germanamz/modelrouter/pkg/turncontext"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Mode is how the requested model was chosen.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeDefault Mode = "default"
	ModeManual  Mode = "manual"
)

// Reason explains the final routing decision.
type Reason string

const (
	ReasonAutoText       Reason = "auto_text"
	ReasonManualText     Reason = "manual_text"
	ReasonManualDenied   Reason = "manual_denied"
	ReasonManualFallback Reason = "manual_fallback"
	ReasonMultimodalTurn Reason = "multimodal_turn"
	ReasonManualVision   Reason = "manual_vision"
	ReasonAutoVision     Reason = "auto_vision"
	ReasonVisionTurn     Reason = "vision_turn"
	ReasonHardTask       Reason = "hard_task"
)

// Sentinel model ids accepted in Turn.Model.
const (
	AutoModelID    = "auto"
	DefaultModelID = "default"
)

const (
	maxSynthesizedFallbacks = 5
	minFallbackSizeB        = 70

	ocrPrompt      = "Extract all readable text from the image. Return only the text."
	ocrTemperature = 0.2
	ocrMaxTokens   = 1200
)

// Choice is a normalized model request.
type Choice struct {
	Mode    Mode
	ModelID string // empty in auto mode
}

// Config holds the routing settings.
type Config struct {
	DefaultModel     string
	FallbackModels   []string
	VisionModel      string
	MultimodalModel  string
	OCRModel         string
	HardTaskModels   []string
	HardTaskTriggers []string
	EnableMultimodal bool
}

// Catalogs serves the current model catalog and the denylist.
type Catalogs interface {
	Catalog(ctx context.Context) *catalog.Catalog
	IsDenied(id string) bool
}

// Options configures a Router.
type Options struct {
	Config  Config
	Catalog Catalogs
	Context *turncontext.Builder
	// Completer runs OCR prompts when no vision model is reachable.
	Completer modeladapter.Completer
	Sink      TraceSink
	Logger    *slog.Logger
}

// Router picks the model and fallback chain for each turn.
type Router struct {
	cfg       Config
	catalogs  Catalogs
	builder   *turncontext.Builder
	completer modeladapter.Completer
	sink      TraceSink
	log       *slog.Logger

	// newID and nowFunc are used for testing.
	newID   func() string
	nowFunc func() time.Time
}

// New creates a Router. A nil Context builder gets a default one with every
// attachment pipeline disabled.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	builder := opts.Context
	if builder == nil {
		builder = turncontext.New(turncontext.Options{Logger: logger})
	}

	return &Router{
		cfg:       opts.Config,
		catalogs:  opts.Catalog,
		builder:   builder,
		completer: opts.Completer,
		sink:      opts.Sink,
		log:       logger,
		newID:     uuid.NewString,
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *Router) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetIDFunc overrides the trace id generator (for testing).
func (r *Router) SetIDFunc(fn func() string) { r.newID = fn }

// Turn is one user turn to route.
type Turn struct {
	Messages    []message.Message
	Model       string
	Attachments []attachment.Attachment
}

// Decision is the routing outcome of a turn.
type Decision struct {
	ChatModel      string
	FallbackModels []string
	// PreparedMessages is the conversation to send, with images attached
	// and the context message inserted.
	PreparedMessages []message.Message
	ContextMessage   *message.Message
	IsDefaultModel   bool
	Trace            *Trace
}

// Normalize maps a requested model id to a Choice.
func (r *Router) Normalize(model string) Choice {
	switch model {
	case "", AutoModelID:
		return Choice{Mode: ModeAuto}
	case DefaultModelID:
		return Choice{Mode: ModeDefault, ModelID: r.cfg.DefaultModel}
	}
	return Choice{Mode: ModeManual, ModelID: model}
}

// routing is the per-turn decision state.
type routing struct {
	choice         Choice
	model          string
	reason         Reason
	conv           *chat.Chat
	extraParts     []string
	used           map[string]string
	requiresVision bool
}

// RouteTurn routes one turn. It fails only when ctx is done.
func (r *Router) RouteTurn(ctx context.Context, turn Turn) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	atts := attachment.Sanitize(turn.Attachments)
	if dropped := len(turn.Attachments) - len(atts); dropped > 0 {
		r.log.DebugContext(ctx, "router: attachments dropped", "dropped", dropped)
	}

	var (
		cat      *catalog.Catalog
		gathered turncontext.Gathered
		g        errgroup.Group
	)
	g.Go(func() error {
		cat = r.catalogs.Catalog(ctx)
		return nil
	})
	g.Go(func() error {
		gathered = r.builder.Gather(ctx, atts)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := &routing{
		choice: r.Normalize(turn.Model),
		conv:   chat.New(turn.Messages...),
		used:   make(map[string]string),
	}

	r.normalizeChoice(st, cat)

	images := attachment.Images(atts)
	hasAudio := len(attachment.Filter(atts, attachment.KindAudio)) > 0

	r.escalateMultimodal(st, cat, len(images) > 0 && hasAudio)
	r.escalateVision(ctx, st, cat, images)
	r.escalateHardTask(st, cat, turn.Messages)

	fallbacks := r.pickFallbacks(cat, st.model, st.requiresVision)

	ctxRes := r.builder.Assemble(ctx, gathered, cat, st.extraParts)
	for k, v := range ctxRes.UsedModels {
		st.used[k] = v
	}

	prepared := st.conv
	if ctxRes.Message != nil {
		prepared = prepared.InsertAfterFirst(*ctxRes.Message)
	}

	trace := &Trace{
		id:            r.newID(),
		mode:          st.choice.Mode,
		reason:        st.reason,
		selectedModel: st.model,
		fallbackChain: slices.Clone(fallbacks),
		usedModels:    st.used,
		attachments:   attachment.Count(atts),
		asrProvider:   r.builder.ASRLabel(),
		timestamp:     r.nowFunc(),
	}

	r.log.DebugContext(ctx, "router: turn routed",
		"trace_id", trace.id,
		"model", st.model,
		"reason", string(st.reason),
		"fallbacks", len(fallbacks),
	)

	if r.sink != nil {
		r.sink.Emit(ctx, trace)
	}

	return &Decision{
		ChatModel:        st.model,
		FallbackModels:   fallbacks,
		PreparedMessages: prepared.Messages(),
		ContextMessage:   ctxRes.Message,
		IsDefaultModel:   st.model == r.cfg.DefaultModel,
		Trace:            trace,
	}, nil
}

func (r *Router) normalizeChoice(st *routing, cat *catalog.Catalog) {
	st.model = st.choice.ModelID
	if st.model == "" {
		st.model = r.cfg.DefaultModel
	}

	st.reason = ReasonAutoText
	if st.choice.Mode == ModeManual {
		st.reason = ReasonManualText
	}

	if st.choice.Mode == ModeManual && r.catalogs.IsDenied(st.choice.ModelID) {
		st.model = r.cfg.DefaultModel
		st.reason = ReasonManualDenied
	}

	if !cat.Has(st.model) {
		if id := cat.Resolve(r.cfg.DefaultModel, catalog.Chat); id != "" {
			st.model = id
		}
		if st.reason == ReasonManualText {
			st.reason = ReasonManualFallback
		}
	}
}

func (r *Router) escalateMultimodal(st *routing, cat *catalog.Catalog, mixed bool) {
	if !r.cfg.EnableMultimodal || !mixed {
		return
	}

	id := cat.Resolve(r.cfg.MultimodalModel, catalog.Multimodal)
	if id == "" {
		return
	}

	st.model = id
	st.used[UsedMultimodal] = id
	st.reason = ReasonMultimodalTurn
}

func (r *Router) escalateVision(ctx context.Context, st *routing, cat *catalog.Catalog, images []content.Image) {
	if len(images) == 0 {
		return
	}

	if d, ok := cat.Get(st.model); ok && d.SupportsVision {
		st.used[UsedVision] = st.model
		st.conv = st.conv.WithImagesOnLastUser(images)
		st.requiresVision = true
		st.reason = ReasonAutoVision
		if st.choice.Mode == ModeManual {
			st.reason = ReasonManualVision
		}
		return
	}

	if id := cat.Resolve(r.cfg.VisionModel, catalog.Vision); id != "" {
		st.model = id
		st.used[UsedVision] = id
		st.conv = st.conv.WithImagesOnLastUser(images)
		st.reason = ReasonVisionTurn
		st.requiresVision = true
		return
	}

	ocrModel := cat.Resolve(r.cfg.OCRModel, catalog.OCR)
	if ocrModel == "" {
		return
	}

	st.used[UsedOCR] = ocrModel
	if text := r.runOCR(ctx, images, ocrModel); text != "" {
		st.extraParts = append(st.extraParts, "OCR_TEXT\n"+text)
	}
}

// runOCR asks model to transcribe the text in images. Failures are logged and
// yield "".
func (r *Router) runOCR(ctx context.Context, images []content.Image, model string) string {
	if r.completer == nil {
		return ""
	}

	parts := make([]content.Part, 0, len(images)+1)
	parts = append(parts, content.Text{Text: ocrPrompt})
	for _, img := range images {
		parts = append(parts, img)
	}

	out, err := r.completer.Complete(ctx, modeladapter.Request{
		Model:       model,
		Messages:    []message.Message{message.New(role.User, parts...)},
		Temperature: modeladapter.Float(ocrTemperature),
		MaxTokens:   ocrMaxTokens,
	})
	if err != nil {
		r.log.WarnContext(ctx, "router: ocr failed", "model", model, "error", err)
		return ""
	}

	return turncontext.Truncate(out, turncontext.VisionBudget)
}

func (r *Router) escalateHardTask(st *routing, cat *catalog.Catalog, msgs []message.Message) {
	if st.choice.Mode != ModeAuto || !r.hasHardTaskTrigger(msgs) {
		return
	}

	for _, id := range r.cfg.HardTaskModels {
		if cat.Has(id) {
			st.model = id
			st.reason = ReasonHardTask
			return
		}
	}
}

func (r *Router) hasHardTaskTrigger(msgs []message.Message) bool {
	last, ok := chat.New(msgs...).LastUser()
	if !ok {
		return false
	}

	text := strings.ToLower(last.TextContent())
	for _, trig := range r.cfg.HardTaskTriggers {
		if trig != "" && strings.Contains(text, strings.ToLower(trig)) {
			return true
		}
	}

	return false
}

// pickFallbacks prefers the configured fallback list restricted to the
// catalog. Without one it takes up to five large chat models, or
// vision-capable models when vision is required, excluding primary.
func (r *Router) pickFallbacks(cat *catalog.Catalog, primary string, requiresVision bool) []string {
	var configured []string
	for _, id := range r.cfg.FallbackModels {
		d, ok := cat.Get(id)
		if !ok || (requiresVision && !d.SupportsVision) {
			continue
		}
		configured = append(configured, id)
	}
	if len(configured) > 0 {
		return configured
	}

	eligible := func(d catalog.Descriptor) bool {
		if requiresVision {
			return d.SupportsVision
		}
		return d.IsChat && (d.SizeB == nil || *d.SizeB >= minFallbackSizeB)
	}

	out := []string{}
	for _, d := range cat.Filter(eligible) {
		if d.ID == primary {
			continue
		}
		out = append(out, d.ID)
		if len(out) == maxSynthesizedFallbacks {
			break
		}
	}

	return out
}
