package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/germanamz/modelrouter/pkg/providers/nim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
provider:
  api_key: ${TEST_ROUTER_KEY}
  rpm: 40
models:
  default: nvidia/llama-3.3-nemotron-super-49b-v1
  fallbacks: [meta/llama-3.3-70b-instruct, qwen/qwen2.5-coder-32b-instruct]
router:
  enable_multimodal: true
  enable_asr: false
catalog:
  cache_ttl_ms: 60000
  denylist: [video]
dispatch:
  max_retries: 1
trace:
  db_path: /tmp/traces.db
`

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "nim", cfg.Provider.Kind)
	assert.Equal(t, nim.DefaultBaseURL, cfg.Provider.BaseURL)
	assert.Equal(t, "meta/llama-3.3-70b-instruct", cfg.Models.Default)
	assert.Equal(t, "nvidia/nemotron-parse", cfg.Models.DocParse)
	assert.Len(t, cfg.Models.HardTask, 3)
	assert.Equal(t, []string{"[hard_task]", "[hard-task]", "[hard]"}, cfg.Router.HardTaskTriggers)
	assert.False(t, cfg.Router.EnableMultimodal)
	assert.True(t, cfg.Router.EnableASR)
	assert.False(t, cfg.Router.EnableDocParse)
	assert.Equal(t, "riva", cfg.Router.ASRProvider)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL())
	assert.Equal(t, []string{"mistral-675", "video"}, cfg.Catalog.Denylist)
	assert.Len(t, cfg.Catalog.Fallback, 4)
	assert.Equal(t, DispatchConfig{MaxRetries: 3, RetryBaseDelayMs: 300, RetryMaxDelayMs: 2000}, cfg.Dispatch)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_ROUTER_KEY", "nvapi-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "nvapi-from-env", cfg.Provider.APIKey)
	assert.Equal(t, 40, cfg.Provider.RPM)
	assert.Equal(t, "nim", cfg.Provider.Kind, "unset keys keep their defaults")
	assert.Equal(t, "nvidia/llama-3.3-nemotron-super-49b-v1", cfg.Models.Default)
	assert.Equal(t, []string{"meta/llama-3.3-70b-instruct", "qwen/qwen2.5-coder-32b-instruct"}, cfg.Models.Fallbacks)
	assert.Equal(t, "meta/llama-3.2-90b-vision-instruct", cfg.Models.Vision)
	assert.True(t, cfg.Router.EnableMultimodal)
	assert.False(t, cfg.Router.EnableASR)
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, []string{"video"}, cfg.Catalog.Denylist)
	assert.Equal(t, 1, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 300, cfg.Dispatch.RetryBaseDelayMs)
	assert.Equal(t, "/tmp/traces.db", cfg.Trace.DBPath)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unterminated"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine: parse config")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NVIDIA_API_KEY", "nvapi-env")
	t.Setenv("NVIDIA_DEFAULT_TEXT_MODEL", "qwen/qwq-32b")
	t.Setenv("NVIDIA_FALLBACK_TEXT_MODELS", " a/one , ,b/two ")
	t.Setenv("NVIDIA_HARD_TASK_TRIGGERS", "[think],[deep]")
	t.Setenv("ROUTER_ENABLE_DOC_PARSE", "true")
	t.Setenv("ROUTER_ENABLE_ASR", "false")
	t.Setenv("NVIDIA_MODELS_CACHE_TTL_MS", "5000")
	t.Setenv("NVIDIA_ROUTER_MAX_RETRIES", "5")
	t.Setenv("NVIDIA_MODEL_DENYLIST", "embed")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg))

	assert.Equal(t, "nvapi-env", cfg.Provider.APIKey)
	assert.Equal(t, "qwen/qwq-32b", cfg.Models.Default)
	assert.Equal(t, []string{"a/one", "b/two"}, cfg.Models.Fallbacks)
	assert.Equal(t, []string{"[think]", "[deep]"}, cfg.Router.HardTaskTriggers)
	assert.True(t, cfg.Router.EnableDocParse)
	assert.False(t, cfg.Router.EnableASR)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL())
	assert.Equal(t, 5, cfg.Dispatch.MaxRetries)
	assert.Equal(t, []string{"embed"}, cfg.Catalog.Denylist)

	// Variables that are not set leave the layered values alone.
	assert.Equal(t, "meta/llama-3.2-90b-vision-instruct", cfg.Models.Vision)
	assert.Equal(t, 2000, cfg.Dispatch.RetryMaxDelayMs)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("NVIDIA_ROUTER_MAX_RETRIES", "many")

	cfg := DefaultConfig()
	err := ApplyEnv(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine: parse env config")
}

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "nvapi-test"
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) { c.Provider.APIKey = "" }, "api key is required"},
		{"missing kind", func(c *Config) { c.Provider.Kind = "" }, "provider kind is required"},
		{"negative rpm", func(c *Config) { c.Provider.RPM = -1 }, "rpm must not be negative"},
		{"missing default", func(c *Config) { c.Models.Default = "" }, "default model is required"},
		{"sentinel default", func(c *Config) { c.Models.Default = "auto" }, `not "auto"`},
		{"zero ttl", func(c *Config) { c.Catalog.CacheTTLMs = 0 }, "cache_ttl_ms must be positive"},
		{"negative retries", func(c *Config) { c.Dispatch.MaxRetries = -2 }, "max_retries must not be negative"},
		{"zero base delay", func(c *Config) { c.Dispatch.RetryBaseDelayMs = 0 }, "retry_base_delay_ms must be positive"},
		{"max below base", func(c *Config) { c.Dispatch.RetryMaxDelayMs = 100 }, "must be at least retry_base_delay_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_BlueprintAndRouterConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Models.Fallbacks = []string{"x/fallback"}
	cfg.Router.EnableMultimodal = true

	bp := cfg.Blueprint()
	assert.Equal(t, cfg.Models.Default, bp.ChatDefault)
	assert.Equal(t, cfg.Models.SafetyGuard, bp.Safety)
	assert.Equal(t, cfg.Catalog.Denylist, bp.Denylist)
	assert.Equal(t, cfg.Catalog.Fallback, bp.FallbackIDs)

	rc := cfg.RouterConfig()
	assert.Equal(t, cfg.Models.Default, rc.DefaultModel)
	assert.Equal(t, []string{"x/fallback"}, rc.FallbackModels)
	assert.Equal(t, cfg.Models.OCR, rc.OCRModel)
	assert.Equal(t, cfg.Router.HardTaskTriggers, rc.HardTaskTriggers)
	assert.True(t, rc.EnableMultimodal)
}
