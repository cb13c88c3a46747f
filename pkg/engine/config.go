package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/germanamz/modelrouter/pkg/catalog"
	"github.com/germanamz/modelrouter/pkg/providers/nim"
	"github.com/germanamz/modelrouter/pkg/router"
	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration. Values are layered:
// DefaultConfig, then the YAML file, then environment variables.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Models   ModelsConfig   `yaml:"models"`
	Router   RouterConfig   `yaml:"router"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Trace    TraceConfig    `yaml:"trace"`
}

// ProviderConfig describes the OpenAI-compatible inference endpoint.
type ProviderConfig struct {
	Kind        string  `yaml:"kind" env:"ROUTER_PROVIDER_KIND"`
	BaseURL     string  `yaml:"base_url" env:"NVIDIA_BASE_URL"`
	APIKey      string  `yaml:"api_key" env:"NVIDIA_API_KEY"` //nolint:gosec // configuration field, not a hardcoded secret
	Temperature float64 `yaml:"temperature" env:"NVIDIA_TEMPERATURE"`
	MaxTokens   int     `yaml:"max_tokens" env:"NVIDIA_MAX_TOKENS"`
	// RPM caps requests per minute across all calls (0 = no limit).
	RPM int `yaml:"rpm" env:"NVIDIA_RATE_LIMIT_RPM"`
}

// ModelsConfig names the preferred model for each role.
type ModelsConfig struct {
	Default     string   `yaml:"default" env:"NVIDIA_DEFAULT_TEXT_MODEL"`
	Fallbacks   []string `yaml:"fallbacks" env:"NVIDIA_FALLBACK_TEXT_MODELS"`
	Vision      string   `yaml:"vision" env:"NVIDIA_VISION_MODEL"`
	Multimodal  string   `yaml:"multimodal" env:"NVIDIA_MULTIMODAL_MODEL"`
	DocParse    string   `yaml:"doc_parse" env:"NVIDIA_DOC_PARSE_MODEL"`
	OCR         string   `yaml:"ocr" env:"NVIDIA_OCR_MODEL"`
	SafetyGuard string   `yaml:"safety_guard" env:"NVIDIA_SAFETY_GUARD_MODEL"`
	Embedding   string   `yaml:"embedding" env:"NVIDIA_EMBEDDING_MODEL"`
	Rerank      string   `yaml:"rerank" env:"NVIDIA_RERANK_MODEL"`
	HardTask    []string `yaml:"hard_task" env:"NVIDIA_HARD_TASK_MODELS"`
	ASR         string   `yaml:"asr" env:"NVIDIA_ASR_MODEL"`
}

// RouterConfig toggles the attachment pipelines and escalations.
type RouterConfig struct {
	HardTaskTriggers []string `yaml:"hard_task_triggers" env:"NVIDIA_HARD_TASK_TRIGGERS"`
	EnableMultimodal bool     `yaml:"enable_multimodal" env:"ROUTER_ENABLE_MULTIMODAL"`
	EnableASR        bool     `yaml:"enable_asr" env:"ROUTER_ENABLE_ASR"`
	EnableDocParse   bool     `yaml:"enable_doc_parse" env:"ROUTER_ENABLE_DOC_PARSE"`
	ASRProvider      string   `yaml:"asr_provider" env:"ROUTER_ASR_PROVIDER"`
}

// CatalogConfig controls the model catalog cache.
type CatalogConfig struct {
	CacheTTLMs int      `yaml:"cache_ttl_ms" env:"NVIDIA_MODELS_CACHE_TTL_MS"`
	Denylist   []string `yaml:"denylist" env:"NVIDIA_MODEL_DENYLIST"`
	Fallback   []string `yaml:"fallback" env:"NVIDIA_MODEL_FALLBACK_CATALOG"`
}

// DispatchConfig controls the retry loop.
type DispatchConfig struct {
	MaxRetries       int `yaml:"max_retries" env:"NVIDIA_ROUTER_MAX_RETRIES"`
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms" env:"NVIDIA_ROUTER_RETRY_BASE_DELAY_MS"`
	RetryMaxDelayMs  int `yaml:"retry_max_delay_ms" env:"NVIDIA_ROUTER_RETRY_MAX_DELAY_MS"`
}

// TraceConfig selects where routing traces go.
type TraceConfig struct {
	// DBPath enables the SQLite trace history when set.
	DBPath string `yaml:"db_path" env:"ROUTER_TRACE_DB"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			Kind:        "nim",
			BaseURL:     nim.DefaultBaseURL,
			Temperature: 0.6,
			MaxTokens:   2048,
		},
		Models: ModelsConfig{
			Default:     "meta/llama-3.3-70b-instruct",
			Vision:      "meta/llama-3.2-90b-vision-instruct",
			Multimodal:  "microsoft/phi-4-multimodal-instruct",
			DocParse:    "nvidia/nemotron-parse",
			OCR:         "nvidia/ocdrnet",
			SafetyGuard: "nvidia/llama-3.1-nemotron-safety-guard-multilingual-8b-v1",
			Embedding:   "nvidia/llama-3.2-nv-embedqa-1b-v2",
			Rerank:      "nvidia/llama-3.2-nemoretriever-500m-rerank-v2",
			HardTask: []string{
				"meta/llama-3.1-405b-instruct",
				"nvidia/llama-3.1-nemotron-ultra-253b-v1",
				"deepseek-ai/deepseek-r1-0528",
			},
		},
		Router: RouterConfig{
			HardTaskTriggers: []string{"[hard_task]", "[hard-task]", "[hard]"},
			EnableASR:        true,
			ASRProvider:      "riva",
		},
		Catalog: CatalogConfig{
			CacheTTLMs: int(catalog.DefaultTTL / time.Millisecond),
			Denylist:   []string{"mistral-675", "video"},
			Fallback: []string{
				"meta/llama-3.3-70b-instruct",
				"meta/llama-3.2-90b-vision-instruct",
				"microsoft/phi-4-multimodal-instruct",
				"nvidia/nemotron-parse",
			},
		},
		Dispatch: DispatchConfig{
			MaxRetries:       3,
			RetryBaseDelayMs: 300,
			RetryMaxDelayMs:  2000,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and returns the result.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables that are set.
// Comma-separated lists are trimmed and empty items dropped.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("engine: parse env config: %w", err)
	}

	for _, list := range []*[]string{
		&cfg.Models.Fallbacks,
		&cfg.Models.HardTask,
		&cfg.Router.HardTaskTriggers,
		&cfg.Catalog.Denylist,
		&cfg.Catalog.Fallback,
	} {
		*list = splitList(*list)
	}

	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error

	if c.Provider.Kind == "" {
		errs = append(errs, errors.New("provider kind is required"))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider api key is required (NVIDIA_API_KEY)"))
	}
	if c.Provider.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider max_tokens must not be negative, got %d", c.Provider.MaxTokens))
	}
	if c.Provider.RPM < 0 {
		errs = append(errs, fmt.Errorf("provider rpm must not be negative, got %d", c.Provider.RPM))
	}
	if c.Models.Default == "" {
		errs = append(errs, errors.New("default model is required"))
	}
	for _, id := range []string{router.AutoModelID, router.DefaultModelID} {
		if c.Models.Default == id {
			errs = append(errs, fmt.Errorf("default model must be a model id, not %q", id))
		}
	}
	if c.Catalog.CacheTTLMs <= 0 {
		errs = append(errs, fmt.Errorf("catalog cache_ttl_ms must be positive, got %d", c.Catalog.CacheTTLMs))
	}
	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("dispatch max_retries must not be negative, got %d", c.Dispatch.MaxRetries))
	}
	if c.Dispatch.RetryBaseDelayMs <= 0 {
		errs = append(errs, fmt.Errorf("dispatch retry_base_delay_ms must be positive, got %d", c.Dispatch.RetryBaseDelayMs))
	}
	if c.Dispatch.RetryMaxDelayMs < c.Dispatch.RetryBaseDelayMs {
		errs = append(errs, fmt.Errorf("dispatch retry_max_delay_ms (%d) must be at least retry_base_delay_ms (%d)",
			c.Dispatch.RetryMaxDelayMs, c.Dispatch.RetryBaseDelayMs))
	}

	if len(errs) > 0 {
		return fmt.Errorf("engine: config: %w", errors.Join(errs...))
	}

	return nil
}

// Blueprint returns the catalog role assignments described by c.
func (c Config) Blueprint() catalog.Blueprint {
	return catalog.Blueprint{
		ChatDefault: c.Models.Default,
		HardTask:    c.Models.HardTask,
		Vision:      c.Models.Vision,
		Multimodal:  c.Models.Multimodal,
		DocParse:    c.Models.DocParse,
		OCR:         c.Models.OCR,
		Safety:      c.Models.SafetyGuard,
		Embedding:   c.Models.Embedding,
		Rerank:      c.Models.Rerank,
		Denylist:    c.Catalog.Denylist,
		FallbackIDs: c.Catalog.Fallback,
	}
}

// RouterConfig returns the routing settings described by c.
func (c Config) RouterConfig() router.Config {
	return router.Config{
		DefaultModel:     c.Models.Default,
		FallbackModels:   c.Models.Fallbacks,
		VisionModel:      c.Models.Vision,
		MultimodalModel:  c.Models.Multimodal,
		OCRModel:         c.Models.OCR,
		HardTaskModels:   c.Models.HardTask,
		HardTaskTriggers: c.Router.HardTaskTriggers,
		EnableMultimodal: c.Router.EnableMultimodal,
	}
}

// CacheTTL returns the catalog cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Catalog.CacheTTLMs) * time.Millisecond
}
