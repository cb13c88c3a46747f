package engine

import (
	"fmt"
	"sync"

	"github.com/germanamz/modelrouter/pkg/modeladapter"
	"github.com/germanamz/modelrouter/pkg/providers/nim"
	"github.com/germanamz/modelrouter/pkg/turncontext"
)

// Provider is everything the engine needs from an inference endpoint: chat
// completions in both call styles, model listing, and audio transcription.
type Provider interface {
	modeladapter.Backend
	modeladapter.Lister
	turncontext.Transcriber
}

// ProviderFactory creates a Provider from the provider and model settings.
type ProviderFactory func(cfg ProviderConfig, models ModelsConfig) (Provider, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["nim"] = newNIM
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func newNIM(cfg ProviderConfig, models ModelsConfig) (Provider, error) {
	c := nim.New(cfg.BaseURL, cfg.APIKey)
	c.Temperature = cfg.Temperature
	c.MaxTokens = cfg.MaxTokens
	c.ASRModel = models.ASR

	return c, nil
}

// buildProvider creates the Provider for cfg.Kind. The returned Backend is the
// provider itself, or a RateLimitedBackend around it when an RPM is set.
// Model listing and transcription are never throttled.
func buildProvider(cfg ProviderConfig, models ModelsConfig) (Provider, modeladapter.Backend, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, nil, fmt.Errorf("engine: unknown provider kind %q", cfg.Kind)
	}

	p, err := factory(cfg, models)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: provider %q: %w", cfg.Kind, err)
	}

	var backend modeladapter.Backend = p
	if cfg.RPM > 0 {
		backend = modeladapter.NewRateLimitedBackend(p, modeladapter.RateLimitOpts{RPM: cfg.RPM})
	}

	return p, backend, nil
}
